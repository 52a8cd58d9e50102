package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/urfave/cli/v2"
)

// generatedAddress is a fresh keypair plus a memo unique enough to tag a first payment.
type generatedAddress struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
	Memo    string `json:"memo"`
}

func generateAddress(now time.Time) (generatedAddress, error) {
	kp, err := stellar.RandomKeypair()
	if err != nil {
		return generatedAddress{}, err
	}
	return generatedAddress{
		Address: kp.Address,
		Secret:  kp.Secret(),
		Memo:    strconv.FormatInt(now.UnixMilli(), 10),
	}, nil
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a new unfunded keypair",
		Description: `Print a new address, its secret seed and a millisecond timestamp memo.

The account does not exist on the ledger until someone sends it at least the base reserve.`,
		Action: func(c *cli.Context) error {
			gen, err := generateAddress(time.Now())
			if err != nil {
				return err
			}

			out := c.App.Writer
			if c.Bool("json") {
				return outputJSON(out, gen)
			}
			fmt.Fprintf(out, "Address: %s\n", gen.Address)
			fmt.Fprintf(out, "Secret:  %s\n", gen.Secret)
			fmt.Fprintf(out, "Memo:    %s\n", gen.Memo)
			return nil
		},
	}
}
