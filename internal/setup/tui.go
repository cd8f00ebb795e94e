// Package setup is the interactive configuration wizard.
package setup

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/sigrelay/config"
)

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

const title = "SIGRELAY CONFIG WIZARD"

func screen(step string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI asks for one or more accounts and writes them to path.
func RunTUI(path string) error {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Relay bot signals to your exchange accounts.\n"))

	var drafts []config.AccountDraft
	for {
		d, err := askAccount(len(drafts) + 1)
		if err != nil {
			return err
		}
		drafts = append(drafts, d)

		more := false
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another account?").
					Value(&more),
			),
		).Run()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	screen("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary(drafts)))

	confirm := false
	err := huh.NewForm(
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
		return errors.New("setup cancelled by user")
	}

	data, err := config.RenderYAML(drafts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "save config file")
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return nil
}

func askAccount(n int) (config.AccountDraft, error) {
	d := config.AccountDraft{
		Name:          fmt.Sprintf("account-%d", n),
		Endpoint:      "ws://127.0.0.1:8080",
		SimulateQuote: "10000",
	}

	screen(fmt.Sprintf("ACCOUNT %d: SIGNAL FEED", n))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Account name").
				Value(&d.Name).
				Validate(notEmpty("name")),
			huh.NewInput().
				Title("Feed endpoint").
				Description("host:port, ws://host:port or wss://host:port of the bot's message API").
				Value(&d.Endpoint).
				Validate(validateEndpoint),
			huh.NewInput().
				Title("Feed token").
				Description("Use ${VAR} to read it from the environment").
				Value(&d.Token).
				EchoMode(huh.EchoModePassword).
				Validate(notEmpty("token")),
		),
	).Run()
	if err != nil {
		return d, err
	}

	screen(fmt.Sprintf("ACCOUNT %d: EXCHANGE", n))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select exchange").
				Options(
					huh.NewOption("Binance", config.ExchangeBinance),
					huh.NewOption("Bybit", config.ExchangeBybit),
					huh.NewOption("Hyperliquid", config.ExchangeHyperliquid),
					huh.NewOption("Simulation", config.ExchangeSimulate),
				).
				Value(&d.Exchange),
			huh.NewConfirm().
				Title("Dry run?").
				Description("Log and report signals without placing orders").
				Value(&d.DryRun),
		),
	).Run()
	if err != nil {
		return d, err
	}

	var fields []huh.Field
	switch d.Exchange {
	case config.ExchangeSimulate:
		fields = append(fields, huh.NewInput().
			Title("Starting quote balance").
			Value(&d.SimulateQuote).
			Validate(validateQuote))
	case config.ExchangeHyperliquid:
		fields = append(fields, huh.NewInput().
			Title("Private key").
			Description("Leave empty to use HYPERLIQUID_API_SECRET").
			Value(&d.Secret).
			EchoMode(huh.EchoModePassword))
	default:
		prefix := strings.ToUpper(d.Exchange)
		fields = append(fields,
			huh.NewInput().
				Title("API key").
				Description(fmt.Sprintf("Leave empty to use %s_API_KEY", prefix)).
				Value(&d.Key),
			huh.NewInput().
				Title("API secret").
				Description(fmt.Sprintf("Leave empty to use %s_API_SECRET", prefix)).
				Value(&d.Secret).
				EchoMode(huh.EchoModePassword),
		)
	}

	screen(fmt.Sprintf("ACCOUNT %d: CREDENTIALS", n))
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return d, err
	}
	if d.Exchange != config.ExchangeSimulate {
		d.SimulateQuote = ""
	}

	return d, nil
}

func summary(drafts []config.AccountDraft) string {
	var b strings.Builder
	for _, d := range drafts {
		mode := "live"
		if d.DryRun {
			mode = "dry run"
		}
		fmt.Fprintf(&b, "%s: %s -> %s (%s)\n", d.Name, d.Endpoint, d.Exchange, mode)
	}
	return b.String()
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validateEndpoint(s string) error {
	u, err := url.Parse(config.NormalizeEndpoint(s))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("must be host:port, ws://host:port or wss://host:port")
	}
	return nil
}

func validateQuote(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be positive")
	}
	return nil
}
