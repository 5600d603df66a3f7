package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldcrew/backend/internal/geocode"
)

// minGeocodePause is the public Nominatim usage policy: one request per second.
const minGeocodePause = time.Second

var geocodeFlags struct {
	input string
	pause time.Duration
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode addresses (one per line) sequentially and print JSON lines",
	RunE:  runGeocode,
}

func init() {
	f := geocodeCmd.Flags()
	f.StringVarP(&geocodeFlags.input, "input", "i", "-", "address file, - for stdin")
	f.DurationVar(&geocodeFlags.pause, "pause", minGeocodePause, "pause between requests (minimum 1s)")
	rootCmd.AddCommand(geocodeCmd)
}

type geocodeLine struct {
	Address  string          `json:"address"`
	Result   *geocode.Result `json:"result"`
	WithinUS bool            `json:"within_us"`
}

func runGeocode(cmd *cobra.Command, _ []string) error {
	in := cmd.InOrStdin()
	if geocodeFlags.input != "-" {
		f, err := os.Open(geocodeFlags.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	addresses, err := readAddresses(in)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("no addresses to geocode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results := geocode.BatchGeocode(ctx, a.Geocoder, addresses, max(geocodeFlags.pause, minGeocodePause))
	return writeGeocodeLines(cmd.OutOrStdout(), addresses, results)
}

func readAddresses(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func writeGeocodeLines(w io.Writer, addresses []string, results []*geocode.Result) error {
	enc := json.NewEncoder(w)
	for i, addr := range addresses {
		line := geocodeLine{Address: addr, Result: results[i]}
		if r := results[i]; r != nil {
			line.WithinUS = geocode.WithinUSBounds(r.Latitude, r.Longitude)
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
