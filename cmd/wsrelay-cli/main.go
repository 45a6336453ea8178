// Command wsrelay-cli is the control-plane client for wsrelayd, in
// the style of lnd's cmd/lncli: a small urfave/cli app whose commands
// hit the daemon's control surface. Unlike lncli, that surface is
// plain HTTP + JSON (GET /health, GET /stats) rather than gRPC, since
// wsrelayd exposes no RPC service of its own.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[wsrelay-cli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "wsrelay-cli"
	app.Usage = "control plane for wsrelayd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "http://localhost:3000",
			Usage: "base URL of the wsrelayd HTTP listener",
		},
		cli.StringFlag{
			Name:  "secret",
			Usage: "shared secret, required for the stats command",
		},
	}
	app.Commands = []cli.Command{healthCommand, statsCommand}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

var healthCommand = cli.Command{
	Name:  "health",
	Usage: "query GET /health",
	Action: func(ctx *cli.Context) error {
		return getAndPrint(ctx.GlobalString("rpcserver")+"/health", "")
	},
}

var statsCommand = cli.Command{
	Name:  "stats",
	Usage: "query GET /stats",
	Action: func(ctx *cli.Context) error {
		secret := ctx.GlobalString("secret")
		if secret == "" {
			return fmt.Errorf("--secret is required for stats")
		}
		return getAndPrint(ctx.GlobalString("rpcserver")+"/stats", secret)
	},
}

func getAndPrint(url, bearer string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}

	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
