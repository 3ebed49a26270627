package main

import (
	"fmt"

	"github.com/arkade-os/fee-distributor/internal/config"
	"github.com/urfave/cli/v2"
)

const (
	urlFlagName    = "url"
	tokenFlagName  = "token"
	afterFlagName  = "after"
	beforeFlagName = "before"
	cycleFlagName  = "cycle-id"
)

var (
	urlFlag = &cli.StringFlag{
		Name:  urlFlagName,
		Usage: "the url where to reach the fee distributor",
		Value: fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPort),
	}
	tokenFlag = &cli.StringFlag{
		Name:    tokenFlagName,
		Usage:   "bearer token used for authenticated requests",
		EnvVars: []string{"FEEDIST_TOKEN"},
	}
	afterFlag = &cli.Int64Flag{
		Name:  afterFlagName,
		Usage: "list reports distributed at or after the given unix timestamp",
	}
	beforeFlag = &cli.Int64Flag{
		Name:  beforeFlagName,
		Usage: "list reports distributed at or before the given unix timestamp",
	}
	cycleFlag = &cli.StringFlag{
		Name:  cycleFlagName,
		Usage: "id of the cycle of the report to show",
	}
)
