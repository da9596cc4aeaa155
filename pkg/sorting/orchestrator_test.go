package sorting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
	"github.com/spikeflow/spikeflow/pkg/filter"
)

func testRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r, filter.DefaultOptions())
	return r
}

func staticProvider(rows int, cols int) DataProvider {
	return func(ctx context.Context) (*model.RawBlock, error) {
		channels := make([]model.ChannelID, rows)
		samples := make([][]int16, rows)
		for i := range channels {
			channels[i] = model.ChannelID(i + 1)
			samples[i] = make([]int16, cols)
			for j := range samples[i] {
				samples[i][j] = int16(j % 100)
			}
		}
		return &model.RawBlock{
			Channels: channels,
			Window:   model.TimeWindow{Start: 0, End: cols},
			Samples:  samples,
		}, nil
	}
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := o.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return Job{}
}

func TestSubmitValidatesUpFront(t *testing.T) {
	o := NewOrchestrator(testRegistry(), 1, 4)
	defer o.Close()

	if _, err := o.Submit("nope", staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10}); !errors.IsCode(err, errors.CodeUnknownAlgorithm) {
		t.Fatalf("unknown algorithm err = %v", err)
	}

	reg := testRegistry()
	RegisterExternal(reg, "fancy", "Fancy Sorter", "not bundled", nil)
	o2 := NewOrchestrator(reg, 1, 4)
	defer o2.Close()
	if _, err := o2.Submit("fancy", staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10}); !errors.IsCode(err, errors.CodeUnavailable) {
		t.Fatalf("unavailable algorithm err = %v", err)
	}
}

func TestJobCompletes(t *testing.T) {
	o := NewOrchestrator(testRegistry(), 2, 8)
	defer o.Close()

	win := model.TimeWindow{Start: 0, End: 500}
	channels := []model.ChannelID{1, 2}
	j, err := o.Submit(FilterOnlyName, staticProvider(2, 500), Params{"filterType": "bandpass"}, channels, win)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != StatusQueued {
		t.Fatalf("submit status = %s, want queued", j.Status)
	}

	done := waitTerminal(t, o, j.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.Error)
	}
	got, err := o.Get(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Result == nil || got.Result.Filtered == nil {
		t.Fatal("completed job has no filtered result")
	}
	if len(got.Result.Filtered.Samples[0]) != 500 {
		t.Fatalf("filtered row length = %d, want 500", len(got.Result.Filtered.Samples[0]))
	}
}

func TestJobFailure(t *testing.T) {
	o := NewOrchestrator(testRegistry(), 1, 4)
	defer o.Close()

	failing := func(ctx context.Context) (*model.RawBlock, error) {
		return nil, fmt.Errorf("buffer went away")
	}
	j, err := o.Submit(FilterOnlyName, failing, nil, nil, model.TimeWindow{End: 10})
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, o, j.ID)
	if done.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if done.Error == "" {
		t.Fatal("failed job carries no message")
	}
}

func TestCancelQueued(t *testing.T) {
	reg := testRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	reg.Register(&AlgorithmSpec{
		Name:        "block",
		DisplayName: "Blocker",
		Available:   true,
		Run: func(ctx context.Context, block *model.RawBlock, params Params) (*Result, error) {
			close(started)
			select {
			case <-release:
				return &Result{Raw: block}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	o := NewOrchestrator(reg, 1, 8)
	defer o.Close()

	blocker, err := o.Submit("block", staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	queued, err := o.Submit(FilterOnlyName, staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !o.Cancel(queued.ID) {
		t.Fatal("cancel of queued job returned false")
	}
	j, err := o.Get(queued.ID)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}

	close(release)
	done := waitTerminal(t, o, blocker.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("blocker status = %s, want completed", done.Status)
	}

	// A cancelled-while-queued job stays cancelled after the worker drains it.
	j, _ = o.Get(queued.ID)
	if j.Status != StatusCancelled {
		t.Fatalf("drained status = %s, want cancelled", j.Status)
	}
}

func TestCancelRunning(t *testing.T) {
	reg := testRegistry()
	started := make(chan struct{})
	reg.Register(&AlgorithmSpec{
		Name:        "block",
		DisplayName: "Blocker",
		Available:   true,
		Run: func(ctx context.Context, block *model.RawBlock, params Params) (*Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	o := NewOrchestrator(reg, 1, 4)
	defer o.Close()

	j, err := o.Submit("block", staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	if !o.Cancel(j.ID) {
		t.Fatal("cancel of running job returned false")
	}
	done := waitTerminal(t, o, j.ID)
	if done.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", done.Status)
	}

	// Terminal jobs cannot be cancelled again.
	if o.Cancel(j.ID) {
		t.Fatal("cancel of terminal job returned true")
	}
}

func TestQueueFull(t *testing.T) {
	reg := testRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	reg.Register(&AlgorithmSpec{
		Name:        "block",
		DisplayName: "Blocker",
		Available:   true,
		Run: func(ctx context.Context, block *model.RawBlock, params Params) (*Result, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return &Result{Raw: block}, nil
		},
	})

	o := NewOrchestrator(reg, 1, 1)
	defer o.Close()

	if _, err := o.Submit("block", staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10}); err != nil {
		t.Fatal(err)
	}
	<-started
	// Worker busy; one slot in the queue.
	if _, err := o.Submit("block", staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Submit("block", staticProvider(1, 10), nil, nil, model.TimeWindow{End: 10}); !errors.IsCode(err, errors.CodeBusy) {
		t.Fatalf("overfull queue err = %v, want CodeBusy", err)
	}
	close(release)
}

func TestResultWindow(t *testing.T) {
	o := NewOrchestrator(testRegistry(), 1, 4)
	defer o.Close()

	win := model.TimeWindow{Start: 100, End: 600}
	channels := []model.ChannelID{1, 2}
	provider := func(ctx context.Context) (*model.RawBlock, error) {
		samples := make([][]int16, 2)
		for i := range samples {
			samples[i] = make([]int16, win.Len())
			for j := range samples[i] {
				samples[i][j] = int16((i + 1) * (j % 50))
			}
		}
		return &model.RawBlock{Channels: channels, Window: win, Samples: samples}, nil
	}

	j, err := o.Submit(FilterOnlyName, provider, Params{"filterType": "none"}, channels, win)
	if err != nil {
		t.Fatal(err)
	}
	done := waitTerminal(t, o, j.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", done.Status, done.Error)
	}

	// Contained window over one known and one unknown channel.
	sub := model.TimeWindow{Start: 200, End: 300}
	rows := o.ResultWindow(j.ID, []model.ChannelID{2, 9}, sub)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[2]
	if len(row) != 100 {
		t.Fatalf("row length = %d, want 100", len(row))
	}
	// filterType none passes samples through, so values are checkable.
	if row[0] != float64(2*((200-100)%50)) {
		t.Fatalf("row[0] = %v", row[0])
	}

	// Window escaping the job's extent yields nothing.
	if rows := o.ResultWindow(j.ID, channels, model.TimeWindow{Start: 50, End: 150}); len(rows) != 0 {
		t.Fatalf("uncontained window produced %d rows", len(rows))
	}
	// Unknown job yields nothing.
	if rows := o.ResultWindow("missing", channels, sub); len(rows) != 0 {
		t.Fatal("unknown job produced rows")
	}
}

func TestRemoveTerminal(t *testing.T) {
	o := NewOrchestrator(testRegistry(), 1, 4)
	defer o.Close()

	j, err := o.Submit(FilterOnlyName, staticProvider(1, 50), nil, nil, model.TimeWindow{End: 50})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, o, j.ID)

	if !o.RemoveTerminal(j.ID) {
		t.Fatal("remove of terminal job returned false")
	}
	if _, err := o.Get(j.ID); !errors.IsCode(err, errors.CodeJobNotFound) {
		t.Fatalf("get after remove err = %v, want CodeJobNotFound", err)
	}
	if o.RemoveTerminal(j.ID) {
		t.Fatal("second remove returned true")
	}
}

func TestRegistryContract(t *testing.T) {
	r := testRegistry()
	RegisterExternal(r, "zeta", "Zeta Sorter", "", nil)
	RegisterExternal(r, "alpha", "Alpha Sorter", "", nil)

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	if list[0].DisplayName != "Alpha Sorter" || list[2].DisplayName != "Zeta Sorter" {
		t.Fatalf("list order = %q, %q, %q", list[0].DisplayName, list[1].DisplayName, list[2].DisplayName)
	}

	// Re-registration replaces by name.
	r.Register(&AlgorithmSpec{Name: "alpha", DisplayName: "Alpha v2", Available: true, Run: func(ctx context.Context, b *model.RawBlock, p Params) (*Result, error) {
		return &Result{Raw: b}, nil
	}})
	if len(r.List()) != 3 {
		t.Fatal("re-registration grew the registry")
	}
	if _, err := r.EnsureAvailable("alpha"); err != nil {
		t.Fatalf("replaced spec unavailable: %v", err)
	}

	if _, err := r.Get("missing"); !errors.IsCode(err, errors.CodeUnknownAlgorithm) {
		t.Fatalf("get missing err = %v", err)
	}
	if _, err := r.EnsureAvailable("zeta"); !errors.IsCode(err, errors.CodeUnavailable) {
		t.Fatalf("ensure unavailable err = %v", err)
	}
}

func TestParamsMerge(t *testing.T) {
	defaults := Params{"a": 1.0, "b": "x"}
	merged := defaults.Merge(Params{"b": "y", "c": true})
	if merged["a"] != 1.0 || merged["b"] != "y" || merged["c"] != true {
		t.Fatalf("merged = %v", merged)
	}
	if defaults["b"] != "x" {
		t.Fatal("merge mutated the defaults")
	}
}
