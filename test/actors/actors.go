package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"servtrack/service"
)

// Editor mutates one owner's record set through the store API: random
// creates, updates, and deletes with jittered pacing.
func Editor(ctx context.Context, store service.Store, ownerID string, stop <-chan struct{}) error {
	var created []string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		switch rand.Intn(3) {
		case 0:
			rec, err := store.Create(ctx, ownerID, randomParams())
			if err != nil {
				if errors.Is(err, service.ErrUnavailable) {
					// expected under chaos
					break
				}
				return fmt.Errorf("editor create: %w", err)
			}
			created = append(created, rec.ID)
		case 1:
			if len(created) == 0 {
				break
			}
			id := created[rand.Intn(len(created))]
			if _, err := store.Update(ctx, id, randomParams()); err != nil {
				if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrUnavailable) {
					break
				}
				return fmt.Errorf("editor update: %w", err)
			}
		case 2:
			if len(created) == 0 {
				break
			}
			i := rand.Intn(len(created))
			id := created[i]
			err := store.Delete(ctx, id)
			switch {
			case err == nil:
				created = append(created[:i], created[i+1:]...)
			case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnavailable):
			default:
				return fmt.Errorf("editor delete: %w", err)
			}
		}

		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Watcher holds a push subscription for one owner and checks every pushed
// snapshot stays scoped to that owner. Snapshot count is exposed for the
// liveness assertion at the end of the run.
func Watcher(ctx context.Context, store service.Store, ownerID string, snapshots *atomic.Int64, stop <-chan struct{}) error {
	violation := make(chan string, 1)

	w, err := store.Watch(ctx, ownerID, func(records []service.Record) {
		snapshots.Add(1)
		for _, rec := range records {
			if rec.OwnerID != ownerID {
				select {
				case violation <- rec.ID:
				default:
				}
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("watcher subscribe: %w", err)
	}
	defer w.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case id := <-violation:
		return fmt.Errorf("watcher for %s saw foreign record %s", ownerID, id)
	}
}

func randomParams() service.Params {
	titles := []string{"Roof repair", "Garden cleanup", "Facade painting", "Electrical review"}
	people := []string{"Ana", "Bruno", "Carla", "Diego"}
	statuses := []service.Status{service.StatusPending, service.StatusInProgress, service.StatusCompleted, service.StatusCanceled}
	steps := []service.ProcessStep{service.StepAnalysis, service.StepExecution, service.StepReview, service.StepDelivered}

	return service.Params{
		Title:       titles[rand.Intn(len(titles))],
		Description: fmt.Sprintf("stress pass %d", rand.Intn(1000)),
		Responsible: people[rand.Intn(len(people))],
		Status:      statuses[rand.Intn(len(statuses))],
		Step:        steps[rand.Intn(len(steps))],
		StartDate:   time.Now().UTC().Truncate(time.Hour),
	}
}
