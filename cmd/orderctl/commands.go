package main

import (
	"encoding/json"
	"fmt"
	"time"

	"marketplace-orders/internal/apiclient"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/paymentsync"
	"marketplace-orders/internal/service"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "orderctl",
		Usage: "drive the marketplace order service from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"ORDERCTL_SERVER"}},
			&cli.StringFlag{Name: "token", Usage: "bearer token", EnvVars: []string{"ORDERCTL_TOKEN"}},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
		},
		Commands: []*cli.Command{
			{
				Name:  "cart",
				Usage: "inspect or fill a cart",
				Subcommands: []*cli.Command{
					{
						Name:  "show",
						Flags: []cli.Flag{&cli.StringFlag{Name: "buyer", Required: true}},
						Action: func(c *cli.Context) error {
							cart, err := client(c).GetCart(c.Context, c.String("buyer"))
							if err != nil {
								return err
							}
							return printJSON(c, cart)
						},
					},
					{
						Name: "add",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "buyer", Required: true},
							&cli.StringFlag{Name: "product", Required: true},
							&cli.IntFlag{Name: "qty", Value: 1},
						},
						Action: func(c *cli.Context) error {
							cart, err := client(c).AddToCart(c.Context, c.String("buyer"), c.String("product"), c.Int("qty"))
							if err != nil {
								return err
							}
							return printJSON(c, cart)
						},
					},
				},
			},
			{
				Name:  "order",
				Usage: "place and manage orders",
				Subcommands: []*cli.Command{
					placeCommand(),
					{
						Name:      "get",
						ArgsUsage: "ORDER_ID",
						Action: func(c *cli.Context) error {
							order, err := client(c).GetOrder(c.Context, orderArg(c))
							if err != nil {
								return err
							}
							return printJSON(c, order)
						},
					},
					{
						Name:      "checkout",
						ArgsUsage: "ORDER_ID",
						Flags:     []cli.Flag{&cli.StringFlag{Name: "actor", Usage: "buyer id"}},
						Action: func(c *cli.Context) error {
							result, err := client(c).Checkout(c.Context, orderArg(c), c.String("actor"))
							if err != nil {
								return err
							}
							return printJSON(c, result)
						},
					},
					waitPaymentCommand(),
					{
						Name:      "cancel",
						ArgsUsage: "ORDER_ID",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "actor"},
							&cli.StringFlag{Name: "role", Value: models.RoleBuyer},
							&cli.StringFlag{Name: "reason"},
						},
						Action: func(c *cli.Context) error {
							actor := models.Actor{ID: c.String("actor"), Role: c.String("role")}
							order, err := client(c).CancelOrder(c.Context, orderArg(c), actor, c.String("reason"))
							if err != nil {
								return err
							}
							return printJSON(c, order)
						},
					},
				},
			},
		},
	}
}

func placeCommand() *cli.Command {
	return &cli.Command{
		Name:  "place",
		Usage: "turn the buyer's cart into a draft order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "buyer"},
			&cli.StringFlag{Name: "street", Required: true},
			&cli.StringFlag{Name: "city", Required: true},
			&cli.StringFlag{Name: "state", Required: true},
			&cli.StringFlag{Name: "zip", Required: true},
			&cli.StringFlag{Name: "country", Required: true},
			&cli.StringFlag{Name: "phone", Required: true},
			&cli.StringFlag{Name: "notes"},
			&cli.StringFlag{Name: "idempotency-key"},
		},
		Action: func(c *cli.Context) error {
			req := &service.CreateOrderRequest{
				BuyerID: c.String("buyer"),
				ShippingAddress: models.ShippingAddress{
					Street:  c.String("street"),
					City:    c.String("city"),
					State:   c.String("state"),
					ZipCode: c.String("zip"),
					Country: c.String("country"),
				},
				PhoneNumber:    c.String("phone"),
				Notes:          c.String("notes"),
				IdempotencyKey: c.String("idempotency-key"),
			}
			order, err := client(c).CreateOrder(c.Context, req)
			if err != nil {
				return err
			}
			return printJSON(c, order)
		},
	}
}

func waitPaymentCommand() *cli.Command {
	def := paymentsync.DefaultConfig()
	return &cli.Command{
		Name:      "wait-payment",
		Usage:     "poll until the order is paid or polling gives up",
		ArgsUsage: "ORDER_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Value: def.Interval, EnvVars: []string{"PAYMENT_POLL_INTERVAL"}},
			&cli.IntFlag{Name: "attempts", Value: def.MaxAttempts, EnvVars: []string{"PAYMENT_POLL_MAX_ATTEMPTS"}},
			&cli.IntFlag{Name: "error-budget", Value: def.ErrorBudget, EnvVars: []string{"PAYMENT_POLL_ERROR_BUDGET"}},
		},
		Action: func(c *cli.Context) error {
			poller := paymentsync.NewPoller(client(c), paymentsync.Config{
				Interval:    c.Duration("interval"),
				MaxAttempts: c.Int("attempts"),
				ErrorBudget: c.Int("error-budget"),
			})

			result, err := poller.Poll(c.Context, orderArg(c))
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "%s (%s after %d checks)\n", result.Message(), result.Outcome, result.Attempts)
			if result.Outcome == paymentsync.OutcomeErrorBudgetExhausted {
				return cli.Exit("payment status unavailable", 2)
			}
			if result.Order != nil {
				return printJSON(c, result.Order)
			}
			return nil
		},
	}
}

func client(c *cli.Context) *apiclient.Client {
	return apiclient.New(c.String("server"), c.String("token"), c.Duration("timeout"))
}

func orderArg(c *cli.Context) string {
	return c.Args().First()
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
