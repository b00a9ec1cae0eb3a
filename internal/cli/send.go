package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morsekob/gokob/internal/morse"
)

func newSendCmd() *cobra.Command {
	var (
		system    string
		textWPM   int
		charWPM   int
		spacing   string
		durations bool
		echo      bool
	)
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Encode text as timed Morse and print it",
		Long: "Encode text into duration sequences at the given speed, without " +
			"touching a wire or an instrument. Useful for inspecting timing and " +
			"for feeding recorded-code tools.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := morse.ParseSymbolSystem(system)
			if err != nil {
				return err
			}
			sp, err := morse.ParseSpacing(spacing)
			if err != nil {
				return err
			}
			sender, err := morse.NewSender(morse.SenderConfig{
				System:  sys,
				TextWPM: textWPM,
				CharWPM: charWPM,
				Spacing: sp,
			})
			if err != nil {
				return err
			}
			var decoded strings.Builder
			var reader *morse.Reader
			if echo {
				reader, err = morse.NewReader(morse.ReaderConfig{
					System:  sys,
					TextWPM: textWPM,
					CharWPM: charWPM,
					OnDecoded: func(d morse.Decoded) {
						if d.Word {
							decoded.WriteByte(' ')
						}
						decoded.WriteString(d.Char)
					},
				})
				if err != nil {
					return err
				}
			}
			enc := sender.Encode(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			for enc.Next() {
				if durations {
					fmt.Fprintf(out, "%c\t%v\n", enc.Char(), enc.Seq())
				} else {
					fmt.Fprintf(out, "%c", enc.Char())
				}
				if reader != nil {
					if err := reader.Decode(enc.Seq()); err != nil {
						return err
					}
				}
			}
			if !durations {
				fmt.Fprintln(out)
			}
			if err := enc.Err(); err != nil {
				return err
			}
			if reader != nil {
				reader.Flush()
				fmt.Fprintf(out, "echo: %s\n", strings.TrimSpace(decoded.String()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&system, "system", "american", "symbol system: american or international")
	cmd.Flags().IntVar(&textWPM, "speed", 20, "text speed in words per minute")
	cmd.Flags().IntVar(&charWPM, "char-speed", 0, "Farnsworth character speed (0 = text speed)")
	cmd.Flags().StringVar(&spacing, "spacing", "none", "where Farnsworth spacing goes: none, char or word")
	cmd.Flags().BoolVarP(&durations, "durations", "d", true, "print millisecond durations per character")
	cmd.Flags().BoolVar(&echo, "echo", true, "decode the sent code back and print the round trip")
	return cmd
}
