package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexsjones/sidekick/internal/llm"
	"github.com/alexsjones/sidekick/internal/memory"
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/tts"
	"github.com/alexsjones/sidekick/internal/voicebot"
)

func newLLMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Talk to the inference sidecar",
	}

	var model string
	var maxTokens int
	manager := func() *llm.Manager {
		return llm.NewManager(cfg.LLMSidecar(log, sidecar.NoopMetrics()), cfg.Sidecars.LLM.SettleDelay)
	}
	withModel := func(ctx context.Context, m *llm.Manager) error {
		if model == "" {
			model = cfg.LLM.ModelPath
		}
		if model == "" {
			return fmt.Errorf("--model is required")
		}
		return m.LoadModel(ctx, model)
	}

	loadCmd := &cobra.Command{
		Use:   "load [path]",
		Short: "Load a model and print the sidecar status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				if err := m.LoadModel(ctx, args[0]); err != nil {
					return err
				}
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}

	chatCmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one chat message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, _ := cmd.Flags().GetString("system")
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				if err := withModel(ctx, m); err != nil {
					return err
				}
				text, err := m.Chat(ctx, system, strings.Join(args, " "), maxTokens)
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			})
		},
	}
	chatCmd.Flags().String("system", "", "System prompt")

	generateCmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Complete a raw prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				if err := withModel(ctx, m); err != nil {
					return err
				}
				text, err := m.Generate(ctx, strings.Join(args, " "), maxTokens)
				if err != nil {
					return err
				}
				fmt.Println(text)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Start the sidecar and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}

	for _, c := range []*cobra.Command{chatCmd, generateCmd} {
		c.Flags().StringVar(&model, "model", "", "Model to load (defaults to llm.modelPath)")
		c.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens to generate")
	}

	cmd.AddCommand(loadCmd, chatCmd, generateCmd, statusCmd)
	return cmd
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "memory",
		Aliases: []string{"mem"},
		Short:   "Store and search conversation memories",
	}

	manager := func() *memory.Manager {
		return memory.NewManager(cfg.MemorySidecar(log, sidecar.NoopMetrics()), cfg.Sidecars.Memory.SettleDelay)
	}

	storeCmd := &cobra.Command{
		Use:   "store [user] [content]",
		Short: "Store a memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			isBot, _ := cmd.Flags().GetBool("bot")
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				id, err := m.Store(ctx, args[0], strings.Join(args[1:], " "), isBot)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
	storeCmd.Flags().Bool("bot", false, "Mark the memory as said by the bot")

	queryCmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Search memories by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			limit, _ := cmd.Flags().GetInt("limit")
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				text := strings.Join(args, " ")
				var msgs []memory.Message
				var err error
				if user != "" {
					msgs, err = m.Query(ctx, user, text, limit)
				} else {
					msgs, err = m.QueryAll(ctx, text, limit)
				}
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SCORE\tUSER\tWHEN\tCONTENT")
				for _, msg := range msgs {
					score := "-"
					if msg.Similarity != nil {
						score = fmt.Sprintf("%.3f", *msg.Similarity)
					}
					when := time.Unix(msg.Timestamp, 0).UTC().Format(time.DateOnly)
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", score, msg.UserID, when, msg.Content)
				}
				return w.Flush()
			})
		},
	}
	queryCmd.Flags().String("user", "", "Only search this user's memories")
	queryCmd.Flags().Int("limit", 5, "Maximum results")

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				n, err := m.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List embedding models",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				models, err := m.ListModels(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tDIMENSION\tLOADED\tDESCRIPTION")
				for _, mi := range models {
					fmt.Fprintf(w, "%s\t%d\t%v\t%s\n", mi.ID, mi.Dimension, mi.IsLoaded, mi.Description)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(storeCmd, queryCmd, countCmd, modelsCmd)
	return cmd
}

func newBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Inspect the voice bot",
	}

	manager := func() *voicebot.Manager {
		m := voicebot.NewManager(cfg.BotSidecar(log, sidecar.NoopMetrics()), cfg.Sidecars.Bot.SettleDelay, cfg.Sidecars.Bot.EventBuffer)
		m.SetToken(cfg.BotToken())
		return m
	}

	guildsCmd := &cobra.Command{
		Use:   "guilds",
		Short: "List the guilds the bot is in",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				if err := m.Connect(ctx); err != nil {
					return err
				}
				guilds, err := m.Guilds(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME")
				for _, g := range guilds {
					fmt.Fprintf(w, "%s\t%s\n", g.ID, g.Name)
				}
				return w.Flush()
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Connect and print the bot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				if err := m.Connect(ctx); err != nil {
					return err
				}
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}

	cmd.AddCommand(guildsCmd, statusCmd)
	return cmd
}

func newTTSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tts",
		Short: "Speak through the speech sidecar",
	}

	var voice, device string
	manager := func() *tts.Manager {
		m := tts.NewManager(cfg.TTSSidecar(log, sidecar.NoopMetrics()), cfg.Sidecars.TTS.SettleDelay)
		if device == "" {
			device = cfg.TTS.OutputDevice
		}
		m.SetOutputDevice(device)
		return m
	}
	withVoice := func(ctx context.Context, m *tts.Manager) error {
		if voice == "" {
			voice = cfg.TTS.ModelPath
		}
		if voice == "" {
			return fmt.Errorf("--voice is required")
		}
		return m.LoadModel(ctx, voice)
	}

	speakCmd := &cobra.Command{
		Use:   "speak [text]",
		Short: "Speak text on the output device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, _ := cmd.Flags().GetFloat64("volume")
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				if err := withVoice(ctx, m); err != nil {
					return err
				}
				return m.Speak(ctx, strings.Join(args, " "), volume)
			})
		},
	}
	speakCmd.Flags().Float64("volume", 1, "Playback volume")
	speakCmd.Flags().StringVar(&device, "device", "", "Output device (defaults to tts.outputDevice)")

	synthesizeCmd := &cobra.Command{
		Use:   "synthesize [text]",
		Short: "Synthesize text and print the audio length",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				if err := withVoice(ctx, m); err != nil {
					return err
				}
				samples, rate, err := m.Synthesize(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if rate <= 0 {
					return fmt.Errorf("sidecar reported sample rate %d", rate)
				}
				d := time.Duration(len(samples)) * time.Second / time.Duration(rate)
				fmt.Printf("%d samples at %d Hz (%s)\n", len(samples), rate, d.Round(time.Millisecond))
				return nil
			})
		},
	}

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List output devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				devices, err := m.ListDevices(ctx)
				if err != nil {
					return err
				}
				for _, d := range devices {
					fmt.Println(d)
				}
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Start the sidecar and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := manager()
			return oneShot(cmd, m.Shutdown, func(ctx context.Context) error {
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}

	for _, c := range []*cobra.Command{speakCmd, synthesizeCmd} {
		c.Flags().StringVar(&voice, "voice", "", "Voice profile to load (defaults to tts.modelPath)")
	}

	cmd.AddCommand(speakCmd, synthesizeCmd, devicesCmd, statusCmd)
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
