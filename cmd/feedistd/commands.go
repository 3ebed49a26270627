package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/urfave/cli/v2"
)

var (
	statusCmd = &cli.Command{
		Name:   "status",
		Usage:  "Show the state of the distribution cycle",
		Flags:  []cli.Flag{urlFlag, tokenFlag},
		Action: statusAction,
	}
	reportsCmd = &cli.Command{
		Name:   "reports",
		Usage:  "List the reports of the completed distributions, or show one of them",
		Flags:  []cli.Flag{urlFlag, tokenFlag, afterFlag, beforeFlag, cycleFlag},
		Action: reportsAction,
	}
	paramsCmd = &cli.Command{
		Name:   "params",
		Usage:  "Show the distribution params stored in the ledger",
		Flags:  []cli.Flag{urlFlag, tokenFlag},
		Action: paramsAction,
	}
)

func statusAction(ctx *cli.Context) error {
	baseURL := ctx.String(urlFlagName)
	token := ctx.String(tokenFlagName)

	status, err := get(fmt.Sprintf("%s/v1/distribution/status", baseURL), token)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func reportsAction(ctx *cli.Context) error {
	baseURL := ctx.String(urlFlagName)
	token := ctx.String(tokenFlagName)

	if cycleID := ctx.String(cycleFlagName); cycleID != "" {
		report, err := get(
			fmt.Sprintf("%s/v1/admin/reports/%s", baseURL, url.PathEscape(cycleID)), token,
		)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	query := url.Values{}
	if after := ctx.Int64(afterFlagName); after > 0 {
		query.Set("after", strconv.FormatInt(after, 10))
	}
	if before := ctx.Int64(beforeFlagName); before > 0 {
		query.Set("before", strconv.FormatInt(before, 10))
	}
	endpoint := fmt.Sprintf("%s/v1/admin/reports", baseURL)
	if len(query) > 0 {
		endpoint = fmt.Sprintf("%s?%s", endpoint, query.Encode())
	}

	reports, err := get(endpoint, token)
	if err != nil {
		return err
	}
	return printJSON(reports)
}

func paramsAction(ctx *cli.Context) error {
	baseURL := ctx.String(urlFlagName)
	token := ctx.String(tokenFlagName)

	params, err := get(fmt.Sprintf("%s/v1/admin/params", baseURL), token)
	if err != nil {
		return err
	}
	return printJSON(params)
}
