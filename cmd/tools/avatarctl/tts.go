package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/astra/backend/internal/audio"
	"github.com/zhouzirui/astra/backend/internal/logging"
	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/service/speech"
)

func newTTSCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tts",
		Short: "Exercise the speech synthesis backend",
	}

	var (
		text    string
		voice   string
		out     string
		timeout time.Duration
	)
	probe := &cobra.Command{
		Use:   "probe",
		Short: "Synthesize one line and write the raw PCM to a file",
		Long: `Synthesize one line with the configured Volcengine credentials and write
the returned 16-bit little-endian mono PCM to --out.

Example:
  avatarctl tts probe --voice Hana --text "Konnichiwa!" --out hana.pcm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Speech.Enabled {
				return fmt.Errorf("speech is not configured: set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
			}

			level := "warn"
			if a.verbose {
				level = "debug"
			}
			logger := logging.New(logging.Config{Level: level, Format: "console", Out: cmd.ErrOrStderr()})

			personas := persona.NewMemoryStore(persona.Seed())
			if a.cfg.Persona.File != "" {
				if err := personas.LoadOverrides(a.cfg.Persona.File); err != nil {
					return fmt.Errorf("failed to load persona overrides: %w", err)
				}
			}

			client := speech.NewVolcengineTTSClient(a.cfg.Speech.ClientConfig(), logger)
			svc := speech.NewService(client, a.cfg.Speech.SampleRate, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			p := personas.Resolve(voice)
			clip, err := svc.Synthesize(ctx, text, p)
			if err != nil {
				return fmt.Errorf("synthesis failed: %w", err)
			}
			if clip == "" {
				return fmt.Errorf("synthesis returned no audio for voice %q", p.SynthesisVoice)
			}

			raw, err := base64.StdEncoding.DecodeString(clip)
			if err != nil {
				return fmt.Errorf("returned audio is not valid base64: %w", err)
			}
			buf := audio.DecodePCM(raw)
			if out == "" {
				out = fmt.Sprintf("%s-%d.pcm", p.ID, time.Now().Unix())
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "voice=%s speaker=%s frames=%d duration=%s file=%s\n",
				p.ID, p.SynthesisVoice, buf.Frames(), buf.Duration().Round(time.Millisecond), out)
			return nil
		},
	}
	probe.Flags().StringVar(&text, "text", "Hello! Can you hear me?", "text to synthesize")
	probe.Flags().StringVar(&voice, "voice", persona.DefaultID, "persona or raw voice id")
	probe.Flags().StringVarP(&out, "out", "o", "", "output file (default <voice>-<unix>.pcm)")
	probe.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")
	cmd.AddCommand(probe)

	return cmd
}
