package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/database"
)

type containerLoggingContext struct {
	repo        persistence.ContainerLogRepository
	containerID string
	appended    []string
	fetched     []persistence.ContainerLogEntry
	rawJSON     []byte
}

func (c *containerLoggingContext) reset() {
	c.repo = nil
	c.containerID = ""
	c.appended = nil
	c.fetched = nil
	c.rawJSON = nil
}

// InitializeContainerLoggingScenario wires the JSON-safety scenario (spec §8
// scenario 4): log messages must survive Append/GetLogs and a JSON round
// trip byte-for-byte, whatever bytes they contain.
func InitializeContainerLoggingScenario(sc *godog.ScenarioContext) {
	lc := &containerLoggingContext{}

	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		lc.reset()
		return ctx, lc.buildRepo()
	})

	sc.Step(`^a container log repository backed by a fresh database$`, func() error { return nil })
	sc.Step(`^a container with ID "([^"]*)" for player (\d+)$`, lc.aContainerWithID)
	sc.Step(`^I append a log message containing a double-quote$`, func() error {
		return lc.appendMessage(`she said "hello" to the captain`)
	})
	sc.Step(`^I append a log message containing a newline$`, func() error {
		return lc.appendMessage("line one\nline two")
	})
	sc.Step(`^I append a log message containing a backslash$`, func() error {
		return lc.appendMessage(`C:\cargo\manifest`)
	})
	sc.Step(`^I append a log message containing a non-BMP emoji$`, func() error {
		return lc.appendMessage("docked at X1-AA \U0001F680")
	})
	sc.Step(`^I append a log message containing a JSON-like substring$`, func() error {
		return lc.appendMessage(`payload: {"seq": 1, "level": "INFO"}`)
	})
	sc.Step(`^the logs for "([^"]*)" parse as valid JSON$`, lc.logsParseAsValidJSON)
	sc.Step(`^the five messages come back byte-identical to what was appended$`, lc.messagesAreByteIdentical)
}

func (lc *containerLoggingContext) buildRepo() error {
	clock := shared.NewRealClock()
	db, err := database.NewTestConnection()
	if err != nil {
		return fmt.Errorf("fresh database: %w", err)
	}
	lc.repo = persistence.NewGormContainerLogRepository(db, clock)
	return nil
}

func (lc *containerLoggingContext) aContainerWithID(containerID string, playerID int) error {
	lc.containerID = containerID
	return nil
}

func (lc *containerLoggingContext) appendMessage(message string) error {
	if err := lc.repo.Append(context.Background(), lc.containerID, "INFO", message); err != nil {
		return err
	}
	lc.appended = append(lc.appended, message)
	return nil
}

func (lc *containerLoggingContext) logsParseAsValidJSON(containerID string) error {
	entries, err := lc.repo.GetLogs(context.Background(), containerID, nil, 0)
	if err != nil {
		return err
	}
	lc.fetched = entries

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	lc.rawJSON = raw

	var roundTripped []persistence.ContainerLogEntry
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		return fmt.Errorf("logs did not parse as valid JSON: %w", err)
	}
	return nil
}

func (lc *containerLoggingContext) messagesAreByteIdentical() error {
	if len(lc.fetched) != len(lc.appended) {
		return fmt.Errorf("expected %d log entries, got %d", len(lc.appended), len(lc.fetched))
	}
	for i, entry := range lc.fetched {
		if entry.Message != lc.appended[i] {
			return fmt.Errorf("entry %d: expected message %q, got %q", i, lc.appended[i], entry.Message)
		}
	}
	return nil
}
