package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	// broker
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string

	// host and join
	advertise       string
	baseURL         string
	broker          string
	connectAttempts int
	identityFile    string
	peerBind        string
	peerPort        int
	textEndpoint    string
	textTimeout     time.Duration

	keepalive time.Duration
	verbose   bool
	version   bool
}

func (c *Config) validateBroker() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.keepalive < 0 {
		return fmt.Errorf("invalid keepalive (must not be negative): %s", c.keepalive)
	}
	return nil
}

func (c *Config) validatePeer() error {
	u, err := url.Parse(c.broker)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid broker url (must be http or https): %q", c.broker)
	}
	if c.peerPort < 0 || c.peerPort > 65535 {
		return fmt.Errorf("invalid peer port (must be between 0-65535 inclusive): %d", c.peerPort)
	}
	if c.connectAttempts < 1 {
		return fmt.Errorf("invalid connect attempts (must be at least 1): %d", c.connectAttempts)
	}
	if c.textTimeout <= 0 {
		return fmt.Errorf("invalid text timeout (must be positive): %s", c.textTimeout)
	}
	if c.keepalive < 0 {
		return fmt.Errorf("invalid keepalive (must not be negative): %s", c.keepalive)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv lets every flag in fs be set from HIDDENROLES_<FLAG_NAME>.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func peerFlags(cfg *Config, fs *pflag.FlagSet) {
	fs.StringVar(&cfg.advertise, "advertise", "", "host name peers should dial to reach this one (env: HIDDENROLES_ADVERTISE)")
	fs.StringVar(&cfg.baseURL, "base-url", "", "base url for share links, defaults to the broker url (env: HIDDENROLES_BASE_URL)")
	fs.StringVar(&cfg.broker, "broker", "http://localhost:8080", "rendezvous broker url (env: HIDDENROLES_BROKER)")
	fs.IntVar(&cfg.connectAttempts, "connect-attempts", 5, "tries before a connection to the host is given up (env: HIDDENROLES_CONNECT_ATTEMPTS)")
	fs.StringVar(&cfg.identityFile, "identity-file", defaultIdentityPath(), "file remembering the claimed player (env: HIDDENROLES_IDENTITY_FILE)")
	fs.StringVar(&cfg.peerBind, "peer-bind", "0.0.0.0", "address to accept peers on (env: HIDDENROLES_PEER_BIND)")
	fs.IntVar(&cfg.peerPort, "peer-port", 0, "port to accept peers on, 0 picks one (env: HIDDENROLES_PEER_PORT)")
	fs.StringVar(&cfg.textEndpoint, "text-endpoint", "", "url of a mission and alert text service (env: HIDDENROLES_TEXT_ENDPOINT)")
	fs.DurationVar(&cfg.textTimeout, "text-timeout", 15*time.Second, "time allowed for the text service (env: HIDDENROLES_TEXT_TIMEOUT)")
}

func newBrokerCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the rendezvous broker that hosts and guests find each other through.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateBroker(); err != nil {
				return err
			}
			return ServeBroker(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: HIDDENROLES_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: HIDDENROLES_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: HIDDENROLES_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: HIDDENROLES_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: HIDDENROLES_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: HIDDENROLES_TLS_KEY)")

	bindEnv(v, fs)

	return cmd
}

func newHostCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Open a room and run the game from this terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validatePeer(); err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	peerFlags(cfg, cmd.Flags())
	bindEnv(v, cmd.Flags())

	return cmd
}

func newJoinCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <code-or-link>",
		Short: "Join a room by its code or share link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validatePeer(); err != nil {
				return err
			}
			return runJoin(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	peerFlags(cfg, cmd.Flags())
	bindEnv(v, cmd.Flags())

	return cmd
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("HIDDENROLES")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "hiddenroles",
		Short:         "A hidden-roles party game, hosted from one terminal and joined from others.",
		SilenceErrors: true,
		Version:       releaseVersion,
	}

	pfs := cmd.PersistentFlags()

	pfs.DurationVar(&cfg.keepalive, "keepalive", 30*time.Second, "time without a pong before a link is dropped, 0 disables (env: HIDDENROLES_KEEPALIVE)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: HIDDENROLES_VERBOSE)")
	pfs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: HIDDENROLES_VERSION)")

	bindEnv(v, pfs)

	cmd.AddCommand(
		newBrokerCmd(cfg, v),
		newHostCmd(cfg, v),
		newJoinCmd(cfg, v),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("hiddenroles v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
