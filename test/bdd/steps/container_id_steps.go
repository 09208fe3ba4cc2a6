package steps

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cucumber/godog"

	"github.com/andrescamacho/spacetraders-go/pkg/utils"
)

type containerIDContext struct {
	generatedID string
}

func (c *containerIDContext) reset() {
	c.generatedID = ""
}

// InitializeContainerIDScenario wires the container id shape scenarios
// (spec §8 scenario 6).
func InitializeContainerIDScenario(sc *godog.ScenarioContext) {
	idCtx := &containerIDContext{}

	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		idCtx.reset()
		return ctx, nil
	})

	sc.Step(`^I generate a container ID with operation "([^"]*)" and ship "([^"]*)"$`, idCtx.generateContainerID)
	sc.Step(`^the container ID matches the pattern "([^"]*)"$`, idCtx.containerIDMatchesPattern)
	sc.Step(`^the container ID starts with "([^"]*)"$`, idCtx.containerIDStartsWith)
}

func (c *containerIDContext) generateContainerID(operation, shipSymbol string) error {
	c.generatedID = utils.GenerateContainerID(operation, shipSymbol)
	if c.generatedID == "" {
		return fmt.Errorf("generated container ID is empty")
	}
	return nil
}

func (c *containerIDContext) containerIDMatchesPattern(pattern string) error {
	matched, err := regexp.MatchString("^"+pattern+"$", c.generatedID)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	if !matched {
		return fmt.Errorf("container ID %q does not match pattern %q", c.generatedID, pattern)
	}
	return nil
}

func (c *containerIDContext) containerIDStartsWith(prefix string) error {
	if !strings.HasPrefix(c.generatedID, prefix) {
		return fmt.Errorf("container ID %q does not start with %q", c.generatedID, prefix)
	}
	return nil
}
