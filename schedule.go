package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"impossibl/pkg/types"
)

const rolloverTimeout = 5 * time.Minute

// unpaidSet remembers ended dailies that could not be finalized, so each one
// is reported once.
type unpaidSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newUnpaidSet() *unpaidSet {
	return &unpaidSet{ids: map[string]bool{}}
}

// mark records id and reports whether it was new.
func (s *unpaidSet) mark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return false
	}
	s.ids[id] = true
	return true
}

var unpaidDailies = newUnpaidSet()

func startScheduler() (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(Config.DailyRolloverCron, runRollover); err != nil {
		return nil, err
	}
	c.Start()
	InfoLog.Printf("[CRON] daily rollover on %q", Config.DailyRolloverCron)
	return c, nil
}

func runRollover() {
	ctx, cancel := context.WithTimeout(context.Background(), rolloverTimeout)
	defer cancel()
	rolloverDailies(ctx)
}

// rolloverDailies finalizes every ended daily and makes sure one is open.
func rolloverDailies(ctx context.Context) {
	due, err := getDueDailyTournaments(ctx)
	if err != nil {
		ErrorLog.Printf("[CRON] due dailies: %v", err)
		return
	}
	for _, t := range due {
		resp, err := finalizeTournament(ctx, t.ID)
		if err != nil {
			if code, msg := errorStatus(err); code < http.StatusInternalServerError {
				if unpaidDailies.mark(t.ID) {
					InfoLog.Printf("[CRON] daily %s not finalized: %s", t.ID, msg)
				}
				continue
			}
			ErrorLog.Printf("[CRON] finalize %s: %v", t.ID, err)
			continue
		}
		InfoLog.Printf("[CRON] finalized %s (%d winners), next %s", t.ID, resp.WinnersCount, resp.NextDailyID)
	}

	next, err := ensureDailyOpen(ctx)
	if err != nil {
		ErrorLog.Printf("[CRON] open daily: %v", err)
		return
	}
	if next != nil {
		InfoLog.Printf("[CRON] opened %s (%s)", next.Name, next.ID)
	}
}

// ensureDailyOpen opens a daily when none is active and returns it, or nil
// when one already was. It shares finalizeLock with finalizeTournament, which
// opens the next daily itself.
func ensureDailyOpen(ctx context.Context) (*types.Tournament, error) {
	finalizeLock.Lock()
	defer finalizeLock.Unlock()

	active, err := getActiveDailyTournament(ctx)
	if err != nil || active != nil {
		return nil, err
	}
	return rollDailyTournament(ctx)
}
