// Package setup runs the interactive configuration wizard.
package setup

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/marketpulse/config"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"gopkg.in/yaml.v3"
)

// OutputFile is where the wizard writes the generated configuration.
const OutputFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collected by the wizard.
type Answers struct {
	Pair           string
	Feed           string
	FeedURL        string
	KafkaBroker    string
	KafkaTopic     string
	ArcCapacity    string
	RedisAddr      string
	SnapshotURL    string
	PollInterval   string
	ChartViewMode  string
	ChartTimeframe string
	Console        bool
}

func defaultAnswers() Answers {
	return Answers{
		Pair:           "BTC_USDT",
		Feed:           config.FeedNone,
		ArcCapacity:    "64",
		PollInterval:   "2m",
		ChartViewMode:  string(domain.ViewCandles),
		ChartTimeframe: domain.DefaultTimeframe.Label,
	}
}

func step(title string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("MARKETPULSE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the terminal configuration wizard and writes OutputFile.
func RunTUI() error {
	a := defaultAnswers()

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("MARKETPULSE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's wire up your live market view.\n"))

	fmt.Println(stepStyle.Render("STEP 1: ASSET"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Tracked Pair").
				Description("BASE_QUOTE, e.g. BTC_USDT").
				Value(&a.Pair).
				Validate(validatePair),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: TRANSACTION FEED")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where do live transactions come from?").
				Options(
					huh.NewOption("WebSocket", config.FeedWebSocket),
					huh.NewOption("Kafka topic", config.FeedKafka),
					huh.NewOption("None (prices and charts only)", config.FeedNone),
				).
				Value(&a.Feed),
		),
	).Run()
	if err != nil {
		return err
	}

	switch a.Feed {
	case config.FeedWebSocket:
		step("STEP 2a: WEBSOCKET")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Feed URL").Description("ws:// or wss://").Value(&a.FeedURL).Validate(validateURL),
				huh.NewInput().Title("Max concurrent arcs").Value(&a.ArcCapacity).Validate(validatePositiveInt),
			),
		).Run()
	case config.FeedKafka:
		step("STEP 2a: KAFKA")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Broker").Description("host:port").Value(&a.KafkaBroker).Validate(validateNotEmpty),
				huh.NewInput().Title("Topic").Value(&a.KafkaTopic).Validate(validateNotEmpty),
				huh.NewInput().Title("Max concurrent arcs").Value(&a.ArcCapacity).Validate(validatePositiveInt),
			),
		).Run()
	}
	if err != nil {
		return err
	}

	step("STEP 3: PRICES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Snapshot endpoint").
				Description("Optional. Empty polls Bybit tickers").
				Value(&a.SnapshotURL).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return validateURL(s)
				}),
			huh.NewInput().
				Title("Poll interval").
				Description("Duration string (e.g. 30s, 2m)").
				Value(&a.PollInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("Redis address for geo cache").
				Description("Optional, host:port").
				Value(&a.RedisAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 4: CHART")
	modes := make([]huh.Option[string], 0, 4)
	for _, m := range []domain.ViewMode{domain.ViewCandles, domain.ViewLine, domain.ViewArea, domain.ViewBars} {
		modes = append(modes, huh.NewOption(string(m), string(m)))
	}
	frames := make([]huh.Option[string], 0, 5)
	for _, tf := range domain.Timeframes() {
		frames = append(frames, huh.NewOption(tf.Label, tf.Label))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("Default view").Options(modes...).Value(&a.ChartViewMode),
			huh.NewSelect[string]().Title("Default timeframe").Options(frames...).Value(&a.ChartTimeframe),
			huh.NewConfirm().Title("Print prices in this terminal?").Value(&a.Console),
		),
	).Run()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf("Pair: %s\nFeed: %s\nPoll: %s\nChart: %s %s\n",
		a.Pair, a.Feed, a.PollInterval, a.ChartViewMode, a.ChartTimeframe)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	data, err := Render(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(OutputFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting...", OutputFile)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

// Render converts answers to the YAML config, validating it on the way.
func Render(a Answers) ([]byte, error) {
	poll, err := time.ParseDuration(a.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll interval: %w", err)
	}

	tmp := config.ConfigTmp{
		Pair:           a.Pair,
		FeedKind:       a.Feed,
		FeedURL:        a.FeedURL,
		ArcCapacityStr: a.ArcCapacity,
		RedisAddr:      a.RedisAddr,
		SnapshotURL:    a.SnapshotURL,
		PollInterval:   poll,
		ChartViewMode:  a.ChartViewMode,
		ChartTimeframe: a.ChartTimeframe,
		Console:        a.Console,
	}
	if a.Feed == config.FeedKafka {
		tmp.KafkaBrokers = []string{a.KafkaBroker}
		tmp.KafkaTopic = a.KafkaTopic
	}
	if _, err := tmp.Parse(); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to generate yaml: %w", err)
	}
	return data, nil
}

func validatePair(s string) error {
	_, err := domain.ParsePair(s)
	return err
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute url")
	}
	return nil
}

func validateNotEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}
