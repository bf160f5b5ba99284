package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/copier/config"
	"github.com/vadiminshakov/copier/internal/domain"
	"github.com/vadiminshakov/copier/internal/storage/idempotency"
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

const title = "COPIER CONFIG WIZARD"

// Answers collects everything the wizard asks for.
type Answers struct {
	Pair         string
	PollInterval string
	Leader       config.AccountTmp
	Followers    []config.AccountTmp
	Backend      string
	RedisURL     string
	HTTPAddr     string
}

func screen(step string) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render(step))
}

func envOptions() []huh.Option[string] {
	return []huh.Option[string]{
		huh.NewOption("Live", string(domain.EnvironmentLive)),
		huh.NewOption("Testnet", string(domain.EnvironmentTest)),
		huh.NewOption("Demo (paper trading)", string(domain.EnvironmentDemo)),
	}
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := Answers{
		Pair:         domain.DefaultPair.String(),
		PollInterval: "5s",
		Leader:       config.AccountTmp{Exchange: string(domain.ExchangeBinance), Env: string(domain.EnvironmentLive)},
		Backend:      idempotency.BackendWAL,
		HTTPAddr:     config.DefaultHTTPAddr,
	}

	screen("STEP 1: PAIR")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Every follower mirrors the leader on one spot pair.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("Must contain underscore (e.g. BTC_USDT)").
				Value(&a.Pair).
				Validate(validatePair),
			huh.NewInput().
				Title("Balance Poll Interval").
				Description("Duration string (e.g. 5s, 30s)").
				Value(&a.PollInterval).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 2: LEADER (BINANCE SPOT)")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Leader environment").
				Options(envOptions()...).
				Value(&a.Leader.Env),
			huh.NewInput().
				Title("Leader API Key").
				Value(&a.Leader.APIKey).
				Validate(required("api key")),
			huh.NewInput().
				Title("Leader API Secret").
				Value(&a.Leader.APISecret).
				EchoMode(huh.EchoModePassword).
				Validate(required("api secret")),
		),
	).Run()
	if err != nil {
		return err
	}

	for more := true; more; {
		f, err := askFollower(len(a.Followers)+1, a.Followers)
		if err != nil {
			return err
		}
		a.Followers = append(a.Followers, f)

		err = huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another follower?").
					Value(&more),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	screen("STEP 4: STORAGE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where to remember copied fills").
				Options(
					huh.NewOption("Local write-ahead log", idempotency.BackendWAL),
					huh.NewOption("Redis (shared between instances)", idempotency.BackendRedis),
					huh.NewOption("Memory only", idempotency.BackendMemory),
				).
				Value(&a.Backend),
			huh.NewInput().
				Title("HTTP listen address").
				Value(&a.HTTPAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.Backend == idempotency.BackendRedis {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Redis URL").
					Description("e.g. redis://localhost:6379/0").
					Value(&a.RedisURL).
					Validate(required("redis url")),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	screen("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(Summary(a)))

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

	if err := Write(path, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting copier...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func askFollower(n int, existing []config.AccountTmp) (config.AccountTmp, error) {
	f := config.AccountTmp{
		ID:       fmt.Sprintf("follower-%d", n),
		Exchange: string(domain.ExchangeBybit),
		Env:      string(domain.EnvironmentLive),
	}

	screen(fmt.Sprintf("STEP 3: FOLLOWER #%d", n))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Follower ID").
				Value(&f.ID).
				Validate(uniqueID(existing)),
			huh.NewSelect[string]().
				Title("Exchange").
				Options(
					huh.NewOption("Binance", string(domain.ExchangeBinance)),
					huh.NewOption("Bitget", string(domain.ExchangeBitget)),
					huh.NewOption("Bybit", string(domain.ExchangeBybit)),
				).
				Value(&f.Exchange),
			huh.NewSelect[string]().
				Title("Environment").
				Options(envOptions()...).
				Value(&f.Env),
			huh.NewInput().
				Title("API Key").
				Value(&f.APIKey).
				Validate(required("api key")),
			huh.NewInput().
				Title("API Secret").
				Value(&f.APISecret).
				EchoMode(huh.EchoModePassword).
				Validate(required("api secret")),
		),
	).Run()
	if err != nil {
		return f, err
	}

	if f.Exchange == string(domain.ExchangeBitget) {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Bitget API Passphrase").
					Value(&f.Passphrase).
					EchoMode(huh.EchoModePassword).
					Validate(required("passphrase")),
			),
		).Run()
	}
	return f, err
}

// Build turns wizard answers into the YAML config shape and checks it the
// same way the copier will on startup.
func Build(a Answers) (config.ConfigTmp, error) {
	poll, err := time.ParseDuration(a.PollInterval)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid poll interval: %w", err)
	}

	tmp := config.ConfigTmp{
		Pair:         strings.ToUpper(strings.TrimSpace(a.Pair)),
		Leader:       a.Leader,
		Followers:    a.Followers,
		PollInterval: poll,
		Idempotency:  idempotency.Config{Backend: a.Backend, RedisURL: a.RedisURL},
		HTTPAddr:     a.HTTPAddr,
	}
	tmp.Leader.Exchange = string(domain.ExchangeBinance)

	data, err := config.Marshal(tmp)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("failed to generate yaml: %w", err)
	}
	if _, err := config.Parse(data); err != nil {
		return config.ConfigTmp{}, err
	}
	return tmp, nil
}

// Write validates a and saves the generated YAML to path.
func Write(path string, a Answers) error {
	tmp, err := Build(a)
	if err != nil {
		return err
	}
	data, err := config.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	// credentials inside
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// Summary renders the answers without secrets.
func Summary(a Answers) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pair: %s\nPoll: %s\nLeader: binance/%s key=%s\n", a.Pair, a.PollInterval, a.Leader.Env, maskKey(a.Leader.APIKey))
	for _, f := range a.Followers {
		fmt.Fprintf(&b, "Follower %s: %s/%s key=%s\n", f.ID, f.Exchange, f.Env, maskKey(f.APIKey))
	}
	fmt.Fprintf(&b, "Idempotency: %s\nHTTP: %s\n", a.Backend, a.HTTPAddr)
	return b.String()
}

func maskKey(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

func validatePair(s string) error {
	if s == "" {
		return fmt.Errorf("pair cannot be empty")
	}
	if _, err := domain.ParsePair(s); err != nil {
		return fmt.Errorf("invalid format: must be BASE_QUOTE (e.g. BTC_USDT)")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		return nil
	}
}

func uniqueID(existing []config.AccountTmp) func(string) error {
	return func(s string) error {
		if err := required("id")(s); err != nil {
			return err
		}
		for _, f := range existing {
			if f.ID == s {
				return fmt.Errorf("id %q is already used", s)
			}
		}
		return nil
	}
}
