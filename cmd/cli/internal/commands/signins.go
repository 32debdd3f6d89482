package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/storefront/internal/models"
)

// SigninsCmd queries the sign-in audit log.
type SigninsCmd struct {
	Recent  SigninsRecentCmd  `cmd:"" help:"Most recent sign-ins across all users"`
	History SigninsHistoryCmd `cmd:"" help:"Sign-in history for one user"`
	Stats   SigninsStatsCmd   `cmd:"" help:"Sign-in counts over an optional date range"`
}

type SigninsRecentCmd struct {
	Limit int `help:"maximum number of records (0 uses the default of 50)" default:"0"`
}

func (s *SigninsRecentCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	return printSignIns(globals.out(), e.audit.GetRecentSignIns(ctx, s.Limit))
}

type SigninsHistoryCmd struct {
	UserID string `arg:"" help:"user id"`
	Limit  int    `help:"maximum number of records (0 uses the default of 10)" default:"0"`
}

func (s *SigninsHistoryCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	return printSignIns(globals.out(), e.audit.GetUserSignInHistory(ctx, s.UserID, s.Limit))
}

type SigninsStatsCmd struct {
	Start time.Time `help:"inclusive range start (RFC3339)" format:"2006-01-02T15:04:05Z07:00"`
	End   time.Time `help:"inclusive range end (RFC3339)" format:"2006-01-02T15:04:05Z07:00"`
}

func (s *SigninsStatsCmd) Run(ctx context.Context, globals *Globals) error {
	if !s.Start.IsZero() && !s.End.IsZero() && s.End.Before(s.Start) {
		return fmt.Errorf("--end must not be before --start")
	}

	e, err := globals.open(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	stats := e.audit.GetSignInStats(ctx, timePtr(s.Start), timePtr(s.End))

	w := tabwriter.NewWriter(globals.out(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total:\t%d\n", stats.TotalSignIns)
	fmt.Fprintf(w, "Successful:\t%d\n", stats.SuccessfulSignIns)
	fmt.Fprintf(w, "Failed:\t%d\n", stats.FailedSignIns)
	fmt.Fprintf(w, "Unique users:\t%d\n", stats.UniqueUsers)
	return w.Flush()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func printSignIns(out io.Writer, records []*models.SignInRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No sign-ins found.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tUSER\tEMAIL\tRESULT\tBROWSER\tOS\tDEVICE\tIP")

	for _, r := range records {
		result := "ok"
		if !r.Success {
			result = "failed"
			if r.FailureReason != "" {
				result = "failed: " + r.FailureReason
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SignInAt.Format(time.RFC3339),
			dash(r.UserID),
			r.Email,
			result,
			dash(r.DeviceInfo.Browser),
			dash(r.DeviceInfo.OS),
			dash(r.DeviceInfo.DeviceType),
			dash(r.IPAddress),
		)
	}

	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
