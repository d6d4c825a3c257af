package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/smallbiznis/corehours/internal/authorization"
	usagedomain "github.com/smallbiznis/corehours/internal/usage/domain"
	"go.uber.org/fx"
)

const dateLayout = "2006-01-02"

func (c *cli) registerReports(app *kingpin.Application) {
	report := app.Command("report", "Accounting report: hours per wallet and resource type.")
	month := report.Flag("month", "Month as YYYY-MM; takes precedence over --year.").String()
	year := report.Flag("year", "Calendar year.").Int()
	reportUser := report.Flag("user", "Only jobs of this user.").String()
	reportWallet := report.Flag("wallet", "Only jobs billed to this wallet.").String()
	c.handle(report, func() (action, []fx.Option, []any) {
		var (
			a   admin
			svc usagedomain.Service
		)
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectUsage, authorization.ActionUsageView); err != nil {
				return err
			}
			res, err := svc.Report(ctx, usagedomain.ReportRequest{
				Month:  *month,
				Year:   *year,
				User:   *reportUser,
				Wallet: *reportWallet,
			})
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(res.Rows)+1)
			for _, r := range res.Rows {
				rows = append(rows, []string{
					orDash(r.Wallet),
					string(r.ResourceType),
					strconv.FormatInt(r.Jobs, 10),
					r.Hours.StringFixed(4),
				})
			}
			rows = append(rows, []string{"TOTAL", "", "", res.Total.StringFixed(4)})
			return c.printer().print(res, []string{"WALLET", "RESOURCE", "JOBS", "HOURS"}, rows)
		}, nil, []any{&a, &svc}
	})

	kpi := app.Command("kpi", "Headline usage figures for a date range.")
	start := kpi.Flag("start", "First day, YYYY-MM-DD.").Required().String()
	end := kpi.Flag("end", "Last day (inclusive), YYYY-MM-DD.").Required().String()
	var f usagedomain.Filter
	kpi.Flag("user", "Only jobs of this user.").StringVar(&f.User)
	kpi.Flag("group", "Only jobs of this group.").StringVar(&f.Group)
	kpi.Flag("queue", "Only jobs of this queue.").StringVar(&f.Queue)
	kpi.Flag("wallet", "Only jobs billed to this wallet.").StringVar(&f.Wallet)
	kpi.Flag("resource-type", "CPU or GPU.").StringVar(&f.ResourceType)
	c.handle(kpi, func() (action, []fx.Option, []any) {
		var (
			a   admin
			svc usagedomain.Service
		)
		return func(ctx context.Context, _ *fx.App) error {
			from, err := time.Parse(dateLayout, *start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := time.Parse(dateLayout, *end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			f.Start, f.End = from, to

			if err := c.authorize(ctx, &a, authorization.ObjectUsage, authorization.ActionUsageView); err != nil {
				return err
			}
			k, err := svc.KPI(ctx, f)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"CPU node-hours", hoursText(k.CPU.Hours)},
				{"CPU jobs", strconv.FormatInt(k.CPU.Jobs, 10)},
				{"GPU core-hours", hoursText(k.GPU.Hours)},
				{"GPU jobs", strconv.FormatInt(k.GPU.Jobs, 10)},
				{"Total jobs", strconv.FormatInt(k.TotalJobs, 10)},
				{"Unique users", strconv.FormatInt(k.UniqueUsers, 10)},
				{"Avg run time (s)", fmt.Sprintf("%.0f", k.AvgRunTimeSeconds)},
				{"Avg wait (s)", fmt.Sprintf("%.0f", k.AvgWaitSeconds)},
				{"Success rate (%)", fmt.Sprintf("%.1f", k.SuccessRate)},
			}
			return c.printer().print(k, []string{"METRIC", "VALUE"}, rows)
		}, nil, []any{&a, &svc}
	})
}
