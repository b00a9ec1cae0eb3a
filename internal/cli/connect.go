package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/morsekob/gokob/internal/clock"
	"github.com/morsekob/gokob/internal/config"
	"github.com/morsekob/gokob/internal/engine"
	"github.com/morsekob/gokob/internal/kob"
	"github.com/morsekob/gokob/internal/morse"
	"github.com/morsekob/gokob/internal/wire"
)

func newConnectCmd(cfgPath *string) *cobra.Command {
	var (
		wireNo     int
		station    string
		statusAddr string
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a wire and operate the station interactively",
		Long: "Join the configured wire (or operate locally with wire 0), decode " +
			"traffic to stdout, and send lines typed on stdin as Morse.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("wire") {
				cfg.Wire = wireNo
			}
			if station != "" {
				cfg.Station = station
			}
			if statusAddr != "" {
				cfg.Status.Addr = statusAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runStation(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&wireNo, "wire", "w", 0, "wire number to join (0 = local only)")
	cmd.Flags().StringVarP(&station, "station", "s", "", "station identity, e.g. \"GO, Chicago\"")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "status/metrics HTTP listen address")
	return cmd
}

func runStation(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	inst := newInstrument(cfg.Instrument.Backend)
	port := kob.New(inst, clk, kob.Config{NoKeyCloser: cfg.Instrument.NoKeyCloser}, log.Logger)

	var link engine.Link
	var client *wire.Client
	if cfg.Wire > 0 {
		client = wire.NewClient(wire.Config{
			Server:    cfg.Server,
			StationID: cfg.Station,
			Version:   Version,
		}, clk, log.Logger)
		link = client
	}

	eng, err := engine.New(engine.Config{
		StationID:  cfg.Station,
		System:     cfg.System(),
		TextWPM:    cfg.Morse.TextSpeed,
		CharWPM:    cfg.Morse.CharSpeed,
		Spacing:    cfg.Spacing(),
		LocalSound: cfg.Instrument.SoundLocal,
	}, port, link, clk, log.Logger)
	if err != nil {
		return err
	}

	printer := newPagePrinter(os.Stdout)
	eng.SubscribeDecoded(printer.write)
	eng.SubscribeSender(func(station string) {
		printer.announce(fmt.Sprintf("<%s>", station))
	})

	if client != nil {
		if err := client.Open(ctx); err != nil {
			return err
		}
		defer client.Close()
		if err := client.Connect(cfg.Wire); err != nil {
			return err
		}
		log.Info().Int("wire", cfg.Wire).Str("station", cfg.Station).
			Str("server", cfg.Server).Msg("on the wire")
	} else {
		log.Info().Msg("operating locally, no wire")
	}

	if cfg.Status.Addr != "" {
		startStatusServer(cfg.Status.Addr, eng)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()
	go sendFromStdin(ctx, eng)

	err = <-errCh
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newInstrument(backend string) kob.Instrument {
	if backend == "virtual" {
		return kob.NewVirtual()
	}
	return kob.Null{}
}

// sendFromStdin transmits each typed line, wrapped in the open/close
// circuit conventions so the operator does not have to type '~' and '+'
// by hand. Lines already carrying them are passed through untouched.
func sendFromStdin(ctx context.Context, eng *engine.Engine) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "~") && !strings.HasSuffix(line, "+") {
			line = "~ " + line + " +"
		}
		if err := eng.SendText(ctx, line); err != nil {
			log.Warn().Err(err).Msg("send failed")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// pagePrinter turns decoded characters back into readable copy, using
// the measured inter-character spacing to re-insert word breaks.
type pagePrinter struct {
	out *os.File
}

func newPagePrinter(out *os.File) *pagePrinter { return &pagePrinter{out: out} }

func (p *pagePrinter) write(_ time.Time, d morse.Decoded) {
	if d.Word {
		fmt.Fprint(p.out, " ")
	}
	fmt.Fprint(p.out, d.Char)
	if d.Char == "=" {
		// Paragraph mark: start a fresh line.
		fmt.Fprintln(p.out)
	}
}

func (p *pagePrinter) announce(s string) {
	fmt.Fprintf(p.out, "\n%s ", s)
}
