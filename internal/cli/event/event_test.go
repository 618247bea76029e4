package event

import (
	"context"
	"sync"
	"testing"
)

func TestBusFansOutInOrder(t *testing.T) {
	var order []string
	first := Func(func(_ context.Context, ev Event) { order = append(order, "first:"+string(ev.Kind())) })
	second := Func(func(_ context.Context, ev Event) { order = append(order, "second:"+string(ev.Kind())) })
	bus := NewBus(first, nil, second)

	bus.Emit(context.Background(), JudgingStarted{PipelineID: "p1", ProblemID: "two-sum"})

	if len(order) != 2 || order[0] != "first:JudgingStarted" || order[1] != "second:JudgingStarted" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestRecorderConcurrentEmit(t *testing.T) {
	rec := &Recorder{}
	bus := NewBus(rec)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(context.Background(), RefreshCompleted{View: ViewRanking})
		}()
	}
	wg.Wait()
	if got := rec.Count(KindRefreshCompleted); got != 50 {
		t.Fatalf("expected 50 events, got %d", got)
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("reset should drop events")
	}
}

func TestKinds(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(context.Background(), ServiceUnreachable{Service: "Judge"})
	rec.Emit(context.Background(), LoggedOut{})
	kinds := rec.Kinds()
	if len(kinds) != 2 || kinds[0] != KindServiceUnreachable || kinds[1] != KindLoggedOut {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	Discard.Emit(context.Background(), LoggedOut{})
}
