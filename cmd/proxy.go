package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/knusbaum/robby/internal/proxy"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the Host-header routing proxy",
	Long: `
Routes each incoming connection to a backend chosen by the Host header of
its first request. Routes come from --route flags and the "routes" list in
the config file:

  routes:
    - host: "*robby.test"
      backends: ["127.0.0.1:8080"]

A host of the form "*suffix" matches any host ending in suffix. The config
file is re-read every --refresh.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := proxy.Config{
			BindHost: viper.GetString("bind_host"),
			BindPort: viper.GetInt("bind_port"),
		}

		flagRoutes, _ := cmd.Flags().GetStringArray("route")
		routes, err := loadRoutes(flagRoutes)
		if err != nil {
			return err
		}
		reg := proxy.NewRegistry()
		reg.Update(routes)
		if len(routes) == 0 {
			log.Warn().Msg("no routes configured, every request will get 502")
		}

		if every := viper.GetDuration("refresh"); every > 0 && viper.ConfigFileUsed() != "" {
			go reg.Refresh(cmd.Context(), func() (map[string][]string, error) {
				if err := viper.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("reread config: %w", err)
				}
				return loadRoutes(flagRoutes)
			}, every)
		}
		return proxy.New(cfg, reg).Run(cmd.Context())
	},
}

func init() {
	f := proxyCmd.Flags()
	f.String("bind-host", "0.0.0.0", "Address to listen on")
	f.Int("bind-port", 60000, "Port to listen on")
	f.StringArray("route", nil, "Route as host=addr[,addr]; may be repeated")
	f.Duration("refresh", 10*time.Second, "How often to re-read routes from the config file (0 disables)")

	viper.BindPFlag("bind_host", f.Lookup("bind-host"))
	viper.BindPFlag("bind_port", f.Lookup("bind-port"))
	viper.BindPFlag("refresh", f.Lookup("refresh"))
}

// loadRoutes merges the "routes" config list with --route flag values.
func loadRoutes(flagRoutes []string) (map[string][]string, error) {
	var routes []proxy.Route
	if err := viper.UnmarshalKey("routes", &routes); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	for _, s := range flagRoutes {
		r, err := proxy.ParseRoute(s)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return proxy.RouteTable(routes)
}
