package lambda

import (
	"context"
	"fmt"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/daily-coordinator/internal/app"
	"github.com/jmehdipour/daily-coordinator/internal/config"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
)

// NewLambdaCmd returns the parent "lambda" command; each subcommand hands
// control to the Lambda runtime.
func NewLambdaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function",
	}
	cmd.AddCommand(coordinatorCmd, slackCmd, whatsappCmd)
	return cmd
}

func load(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Scheduled daily coordination",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := load(cmd)
		if err != nil {
			return err
		}
		coord, err := app.NewCoordinator(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer coord.Close()

		awslambda.Start(CoordinatorHandler(coord))
		return nil
	},
}

var slackCmd = &cobra.Command{
	Use:   "slack",
	Short: "Forward SNS alerts to Slack",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := load(cmd)
		if err != nil {
			return err
		}
		aws, err := app.NewAWS(context.Background(), cfg)
		if err != nil {
			return err
		}
		slack := app.NewSlackChannel(cfg.Alerts.Slack, aws.Secrets, cfg.Credential.TTL)
		if slack == nil {
			return fmt.Errorf("alerts.slack.secret_name is not set")
		}

		awslambda.Start(SlackHandler(slack))
		return nil
	},
}

var whatsappCmd = &cobra.Command{
	Use:   "whatsapp",
	Short: "Forward SNS alerts to WhatsApp via Twilio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := load(cmd)
		if err != nil {
			return err
		}
		aws, err := app.NewAWS(context.Background(), cfg)
		if err != nil {
			return err
		}
		wa := app.NewWhatsAppChannel(cfg.Alerts.WhatsApp, aws.Secrets, cfg.Credential.TTL)
		if wa == nil {
			return fmt.Errorf("alerts.whatsapp.secret_name is not set")
		}

		awslambda.Start(WhatsAppHandler(wa))
		return nil
	},
}
