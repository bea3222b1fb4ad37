package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"qhome-metering/internal/coverage"
	"qhome-metering/internal/gateway"
	metering "qhome-metering/internal/metering/domain"
	"qhome-metering/internal/remediation"
)

// Config defines remediate tool configuration.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	Token       string `yaml:"token"`
	Concurrency int    `yaml:"concurrency"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		BaseURL:     getenvDefault("QHOME_API_URL", "http://localhost:8080"),
		Token:       os.Getenv("QHOME_API_TOKEN"),
		Concurrency: getenvIntDefault("REMEDIATE_CONCURRENCY", 8),
		TimeoutSec:  getenvIntDefault("REMEDIATE_TIMEOUT_SEC", 60),
	}

	if path := os.Getenv("REMEDIATE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.BaseURL == "" {
		return cfg, errors.New("remediate: base_url is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 60
	}
	return cfg, nil
}

type flags struct {
	cycleID   string
	unitIDs   string
	ownerOnly bool
	dryRun    bool
}

func parseFlags() (flags, error) {
	var f flags
	flag.StringVar(&f.cycleID, "cycle", "", "reading cycle id")
	flag.StringVar(&f.unitIDs, "units", "", "comma-separated unit ids (default: every gap unit)")
	flag.BoolVar(&f.ownerOnly, "owner-only", true, "skip units without a current resident")
	flag.BoolVar(&f.dryRun, "dry-run", false, "list the selected units without creating meters")
	flag.Parse()

	if f.cycleID == "" {
		return f, errors.New("remediate: -cycle is required")
	}
	return f, nil
}

func main() {
	_ = godotenv.Load()

	f, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(f, cfg, logger); err != nil {
		logger.Error("remediation failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(f flags, cfg Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSec)*time.Second)
	defer cancel()

	client, err := gateway.NewClient(cfg.BaseURL, cfg.Token, logger)
	if err != nil {
		return err
	}
	resolver, err := remediation.NewResolver(client, logger)
	if err != nil {
		return err
	}

	info, err := resolver.Gaps(ctx, f.cycleID, f.ownerOnly)
	if err != nil {
		return fmt.Errorf("fetch coverage gaps: %w", err)
	}
	if info.Message != "" {
		fmt.Println(info.Message)
	}
	if len(info.MissingMeterUnits) == 0 {
		fmt.Printf("cycle %s: no units without a meter\n", f.cycleID)
		return nil
	}

	selection := remediation.NewSelection()
	if f.unitIDs != "" {
		known := make(map[string]bool, len(info.MissingMeterUnits))
		for _, u := range info.MissingMeterUnits {
			known[u.UnitID] = true
		}
		for _, id := range strings.Split(f.unitIDs, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if !known[id] {
				return fmt.Errorf("unit %s is not a coverage gap of cycle %s", id, f.cycleID)
			}
			selection.Toggle(id)
		}
	} else {
		all := make([]string, 0, len(info.MissingMeterUnits))
		for _, u := range info.MissingMeterUnits {
			all = append(all, u.UnitID)
		}
		selection.ToggleAll(all)
	}
	if selection.Count() == 0 {
		fmt.Println("nothing selected")
		return nil
	}

	groups := groupSelected(info.MissingMeterUnits, selection)
	fmt.Printf("cycle %s: %d units selected across %d buildings\n", f.cycleID, selection.Count(), len(groups))
	for _, g := range groups {
		for _, u := range g.units {
			fmt.Printf("  %s / %s (floor %d)\n", g.code, u.UnitCode, u.Floor)
		}
	}
	if f.dryRun {
		return nil
	}

	remediator, err := remediation.NewRemediator(client, logger, remediation.WithConcurrency(cfg.Concurrency))
	if err != nil {
		return err
	}
	defer remediator.Close()

	var (
		created, failed int
		latest          *coverage.UnassignedInfo
	)
	for _, g := range groups {
		result, refreshed, err := remediator.RemediateAndRefresh(ctx, resolver, f.cycleID, info.ServiceID, f.ownerOnly, g.units)
		if err != nil {
			return fmt.Errorf("building %s: %w", g.code, err)
		}
		created += result.Created
		failed += len(result.Failed)
		fmt.Printf("building %s: requested %d, created %d\n", g.code, result.Requested, result.Created)
		for _, fail := range result.Failed {
			fmt.Printf("  failed %s: %s\n", fail.UnitID, fail.Reason)
		}
		if refreshed != nil {
			latest = refreshed
		}
	}
	fmt.Printf("done: %d meters created, %d failures\n", created, failed)
	if latest != nil {
		fmt.Printf("cycle %s now has %d units without a meter\n", f.cycleID, len(latest.MissingMeterUnits))
	}
	if failed > 0 {
		return fmt.Errorf("%d units could not be remediated", failed)
	}
	return nil
}

type buildingBatch struct {
	code  string
	units []metering.UnitWithoutMeter
}

func groupSelected(units []metering.UnitWithoutMeter, sel *remediation.Selection) []buildingBatch {
	byBuilding := make(map[string]*buildingBatch)
	for _, u := range units {
		if !sel.Contains(u.UnitID) {
			continue
		}
		b, ok := byBuilding[u.BuildingID]
		if !ok {
			b = &buildingBatch{code: u.BuildingCode}
			byBuilding[u.BuildingID] = b
		}
		b.units = append(b.units, u)
	}
	out := make([]buildingBatch, 0, len(byBuilding))
	for _, b := range byBuilding {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
