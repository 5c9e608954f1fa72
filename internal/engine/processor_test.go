package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frauddesk/sentinel/internal/config"
	"github.com/frauddesk/sentinel/internal/logging"
	"github.com/frauddesk/sentinel/internal/model"
	"github.com/frauddesk/sentinel/internal/signals"
	"github.com/frauddesk/sentinel/internal/store"
)

type capturePublisher struct {
	published []*model.Decision
	err       error
}

func (p *capturePublisher) Publish(ctx context.Context, d *model.Decision) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, d)
	return nil
}

type fixture struct {
	proc      *Processor
	decisions *store.MemoryDecisionStore
	publisher *capturePublisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		decisions: store.NewMemoryDecisionStore(),
		publisher: &capturePublisher{},
		now:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	sig := signals.NewStore(signals.NewMemoryBackend())
	f.proc = NewProcessor(config.DefaultRules(), sig, f.decisions, logging.New("error", "text")).
		WithPublisher(f.publisher).
		WithTransactionStore(store.NewMemoryTransactionStore()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func cleanTx(id string) *model.Transaction {
	return &model.Transaction{
		TransactionID: id,
		UserID:        "user-1",
		Amount:        25,
		Currency:      "USD",
		MerchantID:    "grocer",
		Timestamp:     "2026-03-10T12:00:00Z",
	}
}

func TestProcessCleanTransactionAllows(t *testing.T) {
	f := newFixture(t)

	d, err := f.proc.Process(context.Background(), cleanTx("tx-1"))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.LabelAllow, d.Decision)
	assert.Zero(t, d.Score)
	assert.Empty(t, d.Reasons)
	assert.Len(t, f.publisher.published, 1)
}

func TestProcessHighAmountBlocksAtBoundary(t *testing.T) {
	f := newFixture(t)

	tx := cleanTx("tx-1")
	tx.Amount = 1500

	d, err := f.proc.Process(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 60.0, d.Score)
	assert.Equal(t, model.LabelBlock, d.Decision)
	assert.Equal(t, []string{"high_amount"}, d.Reasons)
}

func TestProcessDuplicateIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.proc.Process(ctx, cleanTx("tx-dup"))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.proc.Process(ctx, cleanTx("tx-dup"))
	require.NoError(t, err)
	assert.Nil(t, second)

	// Only one decision published and persisted.
	assert.Len(t, f.publisher.published, 1)
	recent, err := f.decisions.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestProcessBurstFiresOnThirdAndFourth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var scores []float64
	var reasonLists [][]string
	for i, id := range []string{"b-1", "b-2", "b-3", "b-4"} {
		if i > 0 {
			f.advance(3 * time.Second)
		}
		tx := cleanTx(id)
		d, err := f.proc.Process(ctx, tx)
		require.NoError(t, err)
		require.NotNil(t, d)
		scores = append(scores, d.Score)
		reasonLists = append(reasonLists, d.Reasons)
	}

	assert.NotContains(t, reasonLists[0], "burst_60s")
	assert.NotContains(t, reasonLists[1], "burst_60s")
	assert.Contains(t, reasonLists[2], "burst_60s")
	assert.Contains(t, reasonLists[3], "burst_60s")
	assert.Equal(t, []float64{0, 0, 40, 40}, scores)
}

func TestProcessSpendSpikeComparesBeforeRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Build a median of 20.
	for _, id := range []string{"s-1", "s-2"} {
		tx := cleanTx(id)
		tx.Amount = 20
		_, err := f.proc.Process(ctx, tx)
		require.NoError(t, err)
		f.advance(2 * time.Minute)
	}

	// 5x the median fires; the spike amount itself was not yet in the history.
	tx := cleanTx("s-3")
	tx.Amount = 100
	d, err := f.proc.Process(ctx, tx)
	require.NoError(t, err)
	assert.Contains(t, d.Reasons, "spend_spike")
	assert.Equal(t, 30.0, d.Score)
}

func TestProcessFirstTransactionNeverSpendSpikes(t *testing.T) {
	f := newFixture(t)

	tx := cleanTx("s-first")
	tx.Amount = 999 // would dwarf any median, but there is no history yet

	d, err := f.proc.Process(context.Background(), tx)
	require.NoError(t, err)
	assert.NotContains(t, d.Reasons, "spend_spike")
}

func TestProcessDeviceAndIPNovelty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx := cleanTx("d-1")
	tx.Device = &model.Device{ID: "dev-a", IP: "10.0.0.1"}

	d, err := f.proc.Process(ctx, tx)
	require.NoError(t, err)
	assert.Contains(t, d.Reasons, "new_device")
	assert.Contains(t, d.Reasons, "new_ip")
	assert.Equal(t, 35.0, d.Score) // 20 + 15
	assert.Equal(t, model.LabelReview, d.Decision)

	// Same device after the recency window: no novelty points.
	f.advance(8 * 24 * time.Hour)
	tx2 := cleanTx("d-2")
	tx2.Device = &model.Device{ID: "dev-a", IP: "10.0.0.1"}
	d, err = f.proc.Process(ctx, tx2)
	require.NoError(t, err)
	assert.NotContains(t, d.Reasons, "new_device")
	assert.NotContains(t, d.Reasons, "new_ip")
}

func floatPtr(f float64) *float64 { return &f }

func TestProcessGeoImpossibleFiresOnSecondTransactionOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	london := &model.Location{Lat: floatPtr(51.5074), Lon: floatPtr(-0.1278)}
	newYork := &model.Location{Lat: floatPtr(40.7128), Lon: floatPtr(-74.006)}

	// First location ever: nothing to compare against.
	tx1 := cleanTx("g-1")
	tx1.Location = london
	d, err := f.proc.Process(ctx, tx1)
	require.NoError(t, err)
	assert.NotContains(t, d.Reasons, "geo_impossible")

	// ~5570 km in 60 seconds is far beyond 900 km/h.
	f.advance(60 * time.Second)
	tx2 := cleanTx("g-2")
	tx2.Location = newYork
	d, err = f.proc.Process(ctx, tx2)
	require.NoError(t, err)
	assert.Contains(t, d.Reasons, "geo_impossible")
	assert.Equal(t, 50.0, d.Score)
}

func TestProcessGeoSpeedBoundaryDoesNotFire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx1 := cleanTx("g-1")
	tx1.Location = &model.Location{Lat: floatPtr(0), Lon: floatPtr(0)}
	_, err := f.proc.Process(ctx, tx1)
	require.NoError(t, err)

	// ~890 km in one hour: at or under the 900 km/h limit, which must not
	// fire. Only a strictly greater implied speed does.
	f.advance(time.Hour)
	tx2 := cleanTx("g-2")
	tx2.Location = &model.Location{Lat: floatPtr(8.0), Lon: floatPtr(0)}
	d, err := f.proc.Process(ctx, tx2)
	require.NoError(t, err)
	assert.NotContains(t, d.Reasons, "geo_impossible")
}

func TestProcessScoreClampedAt100(t *testing.T) {
	f := newFixture(t)

	tx := cleanTx("c-1")
	tx.Amount = 5000
	tx.Currency = "DOLLARS"
	tx.MerchantID = "test-shop"
	tx.Timestamp = "2026-03-10T02:00:00Z"
	tx.Device = &model.Device{ID: "dev-z", IP: "10.9.9.9"}

	d, err := f.proc.Process(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, d.Score)
	assert.Equal(t, model.LabelBlock, d.Decision)
}

func TestProcessPublishFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	d, err := f.proc.Process(context.Background(), cleanTx("p-1"))
	assert.Error(t, err)
	assert.Nil(t, d)

	// No decision persisted: redelivery will process it again.
	recent, err := f.decisions.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestProcessUsersAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Three rapid transactions for user-1.
	for i, id := range []string{"i-1", "i-2", "i-3"} {
		if i > 0 {
			f.advance(time.Second)
		}
		_, err := f.proc.Process(ctx, cleanTx(id))
		require.NoError(t, err)
	}

	// A different user right after sees no burst.
	other := cleanTx("i-4")
	other.UserID = "user-2"
	d, err := f.proc.Process(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, d.Reasons)
	assert.Equal(t, model.LabelAllow, d.Decision)
}
