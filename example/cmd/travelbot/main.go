package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"goa.design/clue/log"

	travelbot "example.com/travelbot"
	"github.com/flowdial/flowdial/dialog/hooks"
	"github.com/flowdial/flowdial/dialog/nlu"
	"github.com/flowdial/flowdial/dialog/runtime"
	"github.com/flowdial/flowdial/dialog/telemetry"
	anthropicnlu "github.com/flowdial/flowdial/features/nlu/anthropic"
	"github.com/flowdial/flowdial/features/nlu/middleware"
)

func main() {
	var (
		flowsF       = flag.String("flows", "flows", "Directory of YAML flow definitions")
		userF        = flag.String("user", "demo-user", "Conversation user key")
		modelF       = flag.String("model", string(sdk.ModelClaudeSonnet4_5_20250929), "Anthropic model (used when ANTHROPIC_API_KEY is set)")
		interactiveF = flag.Bool("i", false, "Read messages from stdin instead of playing the demo script")
		dbgF         = flag.Bool("debug", false, "Log dialogue lifecycle events")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	// Understanding provider: a model when a key is configured, the
	// built-in keyword rules otherwise.
	var provider nlu.Provider
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := anthropicnlu.NewFromAPIKey(key, *modelF)
		if err != nil {
			log.Fatalf(ctx, err, "anthropic provider")
		}
		limiter := middleware.NewAdaptiveRateLimiter(ctx, nil, "", 60000, 120000)
		provider = limiter.Middleware()(p)
		log.Printf(ctx, "understanding: anthropic %s", *modelF)
	} else {
		provider = travelbot.NewRules()
		log.Printf(ctx, "understanding: built-in keyword rules (set ANTHROPIC_API_KEY for a model)")
	}

	bus := hooks.NewBus()
	if *dbgF {
		sub := hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
			log.Debug(ctx, log.KV{K: "hook", V: string(evt.Type())}, log.KV{K: "turn", V: evt.TurnID()})
			return nil
		})
		if _, err := bus.Register(sub); err != nil {
			log.Fatalf(ctx, err, "hook subscriber")
		}
	}

	rt, err := travelbot.New(travelbot.Options{
		FlowsDir: *flowsF,
		Provider: provider,
		Logger:   telemetry.NewClueLogger(),
		Hooks:    bus,
	})
	if err != nil {
		log.Fatalf(ctx, err, "assemble runtime")
	}

	if *interactiveF {
		if err := runInteractive(ctx, rt, *userF); err != nil {
			log.Fatalf(ctx, err, "conversation")
		}
		return
	}
	if err := travelbot.Run(ctx, rt, *userF, travelbot.Script(time.Now()), os.Stdout); err != nil {
		log.Fatalf(ctx, err, "conversation")
	}
}

func runInteractive(ctx context.Context, rt *runtime.Runtime, userKey string) error {
	fmt.Println("Type a message (ctrl-d to quit).")
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !sc.Scan() {
			fmt.Println()
			return sc.Err()
		}
		msg := strings.TrimSpace(sc.Text())
		if msg == "" {
			continue
		}
		reply, err := rt.ProcessTurn(ctx, userKey, msg)
		if err != nil {
			return err
		}
		fmt.Printf("bot> %s\n", strings.ReplaceAll(reply, "\n", "\nbot> "))
	}
}
