package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"datascout/internal/domain"
	"datascout/internal/infra/config"
	"datascout/internal/usecase"
)

// runCmd starts a fresh run: scout run PERSONA PROMPT.
func runCmd(args []string) error {
	args = stripFlags(args)
	if len(args) < 2 {
		return fmt.Errorf("usage: scout run PERSONA PROMPT")
	}
	personaName := args[0]
	prompt := strings.Join(args[1:], " ")

	ctx := context.Background()
	app, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	persona, ok := resolvePersona(app, personaName)
	if !ok {
		return fmt.Errorf("unknown persona %q", personaName)
	}

	rt, err := initRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	unsub := attachConsole(rt.Bus)
	defer unsub()

	eng := usecase.NewEngine(persona, rt.engineDeps(persona, app.Logger))
	ctx, cancel := notifyStop(ctx, eng.Stop)
	defer cancel()

	result, err := eng.Run(ctx, prompt)
	return reportResult(eng.RunID(), result, err)
}

// resumeCmd continues an interrupted run: scout resume RUN_ID.
func resumeCmd(args []string) error {
	args = stripFlags(args)
	if len(args) != 1 {
		return fmt.Errorf("usage: scout resume RUN_ID")
	}
	runID := args[0]

	ctx := context.Background()
	app, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := initRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.Store == nil {
		return fmt.Errorf("checkpointing is disabled; nothing to resume")
	}
	cp, err := rt.Store.LoadLatest(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrCheckpointNotFound) {
			return fmt.Errorf("no checkpoint found for run %s", runID)
		}
		return err
	}

	persona, ok := resolvePersona(app, cp.Agent)
	if !ok {
		return fmt.Errorf("checkpoint references unknown persona %q", cp.Agent)
	}

	unsub := attachConsole(rt.Bus)
	defer unsub()

	eng := usecase.NewEngine(persona, rt.engineDeps(persona, app.Logger))
	ctx, cancel := notifyStop(ctx, eng.Stop)
	defer cancel()

	app.Logger.Info("resuming run", "run_id", runID, "agent", cp.Agent, "iteration", cp.Iteration)
	result, err := eng.Resume(ctx, *cp)
	return reportResult(runID, result, err)
}

// pipelineCmd chains the built-in personas: each stage receives the previous
// stage's summary and discoveries as context.
func pipelineCmd(args []string) error {
	args = stripFlags(args)
	if len(args) < 1 {
		return fmt.Errorf("usage: scout pipeline PROMPT")
	}
	prompt := strings.Join(args, " ")

	ctx := context.Background()
	app, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := initRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	unsub := attachConsole(rt.Bus)
	defer unsub()

	stagePrompt := prompt
	for i, name := range pipelineOrder {
		persona, ok := resolvePersona(app, name)
		if !ok {
			return fmt.Errorf("pipeline persona %q not found", name)
		}

		eng := usecase.NewEngine(persona, rt.engineDeps(persona, app.Logger))
		stageCtx, cancel := notifyStop(ctx, eng.Stop)

		result, err := eng.Run(stageCtx, stagePrompt)
		cancel()
		if err != nil {
			return fmt.Errorf("pipeline stage %s (run %s): %w", name, eng.RunID(), err)
		}

		app.Logger.Info("pipeline stage complete",
			"stage", name,
			"run_id", eng.RunID(),
			"iterations", result.Iterations,
			"discoveries", len(result.Discoveries),
		)

		if i == len(pipelineOrder)-1 {
			fmt.Printf("\npipeline complete.\n%s\n", result.Summary)
			return nil
		}
		stagePrompt = nextStagePrompt(prompt, result)
	}
	return nil
}

// nextStagePrompt folds a stage's summary and discoveries into the prompt
// for the next persona.
func nextStagePrompt(original string, prev *domain.AgentResult) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n\nFindings from the previous stage:\n")
	sb.WriteString(prev.Summary)
	if len(prev.Discoveries) > 0 {
		sb.WriteString("\n\nKnown workspace facts:\n")
		for _, d := range prev.Discoveries {
			fmt.Fprintf(&sb, "- [%s] %s\n", d.Type, d.Description)
		}
	}
	return sb.String()
}

// runsCmd lists checkpointed runs.
func runsCmd() error {
	ctx := context.Background()
	app, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := initRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.Store == nil {
		return fmt.Errorf("checkpointing is disabled")
	}
	runs, err := rt.Store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no checkpointed runs")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %-10s iter %-3d %s\n",
			r.RunID, r.Agent, r.Iteration, r.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

// encryptCmd encrypts a secret for use in config files as "enc:...".
func encryptCmd(args []string) error {
	args = stripFlags(args)
	if len(args) != 1 {
		return fmt.Errorf("usage: scout encrypt VALUE")
	}
	passphrase := os.Getenv("DATASCOUT_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("DATASCOUT_CONFIG_KEY must be set")
	}
	encrypted, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("enc:%s\n", encrypted)
	return nil
}

// reportResult prints the terminal outcome of a run.
func reportResult(runID string, result *domain.AgentResult, err error) error {
	if err != nil {
		if result != nil {
			fmt.Fprintf(os.Stderr, "run %s ended after %d iterations: %v\n", runID, result.Iterations, err)
		}
		if errors.Is(err, domain.ErrStopped) || errors.Is(err, domain.ErrMaxIterations) {
			fmt.Fprintf(os.Stderr, "resume with: scout resume %s\n", runID)
		}
		return err
	}
	fmt.Printf("\nrun %s complete.\n%s\n", runID, result.Summary)
	return nil
}
