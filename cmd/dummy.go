package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/knusbaum/robby/internal/dummy"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run the target site the website scenario browses",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		jitter, _ := cmd.Flags().GetDuration("jitter")

		srv := dummy.Start(dummy.ServerConfig{Port: port, MaxJitter: jitter})
		<-cmd.Context().Done()

		log.Info().Msg("shutting down target site")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run dummy server on")
	dummyCmd.Flags().Duration("jitter", 0, "Maximum random delay added to each page")
}
