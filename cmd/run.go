package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
	"github.com/king0929zion/Zigent-sub000/internal/decider"
	"github.com/king0929zion/Zigent-sub000/internal/device"
	"github.com/king0929zion/Zigent-sub000/internal/engine"
	"github.com/king0929zion/Zigent-sub000/internal/llmclient"
	"github.com/king0929zion/Zigent-sub000/internal/memory"
	"github.com/king0929zion/Zigent-sub000/internal/observability"
	"github.com/king0929zion/Zigent-sub000/internal/planner"
	"github.com/king0929zion/Zigent-sub000/internal/verifier"
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run one automation goal against the device simulator",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.Join(args, " ")
		return runGoal(cmd.Context(), goal)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runGoal(ctx context.Context, goal string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	if err := eng.StartTask(ctx, goal); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Wait()
	}()

	stdin := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			eng.Cancel()
			<-done
			fmt.Println("cancelled")
			return nil

		case <-done:
			drainAndPrint(events)
			fmt.Printf("%s: %s\n", eng.State(), eng.Result())
			return nil

		case ev, ok := <-events:
			if !ok {
				<-done
				return nil
			}
			printEvent(ev)
			if ev.Type == schemas.EventAskUser {
				fmt.Print("> ")
				line, err := stdin.ReadString('\n')
				if err != nil {
					eng.Cancel()
					<-done
					return nil
				}
				if err := eng.AnswerQuestion(strings.TrimSpace(line)); err != nil {
					logger.Warn("Answer rejected", zap.Error(err))
				}
			}
		}
	}
}

// buildEngine wires the full collaborator graph: simulator device, routed
// LLM client, memory (optionally postgres backed), and the core components.
func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine.Engine, error) {
	llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM client: %w", err)
	}

	sim, err := device.NewSimulator(cfg.Device, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build device simulator: %w", err)
	}

	var summaries memory.SummaryStore
	if url := cfg.Memory.Postgres.URL; url != "" {
		store, err := memory.ConnectSummaryStore(ctx, url, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect summary store: %w", err)
		}
		summaries = store
	}

	return engine.New(engine.Options{
		Config:   cfg.Engine,
		Decider:  decider.New(llm, logger),
		Planner:  planner.New(llm, cfg.Planner, logger),
		Verifier: verifier.New(cfg.Verifier, logger),
		Memory:   memory.NewStore(cfg.Memory, summaries, logger),
		Source:   sim,
		Executor: sim,
		LLM:      llm,
		Logger:   logger,
	})
}

func drainAndPrint(events <-chan schemas.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			printEvent(ev)
		default:
			return
		}
	}
}

func printEvent(ev schemas.Event) {
	switch ev.Type {
	case schemas.EventStateChanged:
		fmt.Printf("[state] %s\n", ev.Message)
	case schemas.EventStepStarted:
		fmt.Printf("[step]  %s\n", ev.Message)
	case schemas.EventStepCompleted:
		fmt.Printf("[done]  %s\n", ev.Message)
	case schemas.EventPlanGenerated:
		fmt.Printf("[plan]  %s\n", ev.Message)
	case schemas.EventAskUser, schemas.EventConfirmationRequired:
		fmt.Printf("[ask]   %s\n", ev.Message)
	case schemas.EventTaskCompleted:
		fmt.Printf("[ok]    %s\n", ev.Message)
	case schemas.EventTaskFailed:
		fmt.Printf("[fail]  %s\n", ev.Message)
	default:
		fmt.Printf("[%s] %s\n", strings.ToLower(string(ev.Type)), ev.Message)
	}
}
