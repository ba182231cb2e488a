package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/booking"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/logger"
	"github.com/example/court-scheduler/internal/migrate"
	"github.com/example/court-scheduler/internal/postgres"
	"github.com/example/court-scheduler/internal/tasks"
)

// The task commands manage the stored task set. The running server reloads
// the store at startup; while it is up, use its API so new tasks reach the
// live scheduler immediately.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage scheduled reservation tasks (offline, against the store)",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskCancelCmd())
	return cmd
}

func openStore(ctx context.Context) (*db.DB, *postgres.TaskStore, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Up(ctx, d); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, postgres.NewTaskStore(d), nil
}

func newTaskCreateCmd() *cobra.Command {
	var (
		fieldNo     string
		fieldName   string
		beginTime   string
		endTime     string
		price       string
		bookingDate string
		fireAt      string
		venueNo     string
		fieldTypeNo string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a task that fires a booking attempt at an exact instant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			date, err := time.ParseInLocation("2006-01-02", bookingDate, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --date (want YYYY-MM-DD)")
			}
			fireTime, err := time.ParseInLocation("2006-01-02 15:04:05", fireAt, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --fire-at (want \"YYYY-MM-DD HH:MM:SS\" local time)")
			}

			if venueNo == "" {
				venueNo = cfg.Booking.VenueNo
			}
			if fieldTypeNo == "" {
				fieldTypeNo = cfg.Booking.FieldTypeNo
			}

			slot := booking.Slot{
				VenueNo:     venueNo,
				FieldNo:     fieldNo,
				FieldTypeNo: fieldTypeNo,
				FieldName:   fieldName,
				BeginTime:   beginTime,
				EndTime:     endTime,
				Price:       price,
				Date:        date,
			}

			reg := tasks.NewRegistry(store, logger.Nop())
			t, err := reg.Create(ctx, slot, fireTime)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created task id=%s slot=%q fire_time=%s\n",
				t.ID, t.Slot.String(), t.FireTime.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&fieldNo, "field-no", "", "portal field number, e.g. GYMQ001")
	c.Flags().StringVar(&fieldName, "field-name", "", "display name of the court")
	c.Flags().StringVar(&beginTime, "begin", "", "slot begin time HH:MM")
	c.Flags().StringVar(&endTime, "end", "", "slot end time HH:MM")
	c.Flags().StringVar(&price, "price", "0.00", "slot price as shown by the portal")
	c.Flags().StringVar(&bookingDate, "date", "", "booking date YYYY-MM-DD")
	c.Flags().StringVar(&fireAt, "fire-at", "", "instant to start attempting, local time \"YYYY-MM-DD HH:MM:SS\"")
	c.Flags().StringVar(&venueNo, "venue-no", "", "portal venue number (default from config)")
	c.Flags().StringVar(&fieldTypeNo, "field-type-no", "", "portal field type number (default from config)")

	_ = c.MarkFlagRequired("field-no")
	_ = c.MarkFlagRequired("begin")
	_ = c.MarkFlagRequired("end")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("fire-at")
	return c
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open (pending or running) tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			d, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			ts, err := store.LoadOpen(ctx)
			if err != nil {
				return err
			}
			for _, t := range ts {
				fmt.Fprintf(os.Stdout, "id=%s status=%s fire_time=%s slot=%q attempts=%d\n",
					t.ID, t.Status, t.FireTime.Format(time.RFC3339), t.Slot.String(), len(t.Attempts))
			}
			return nil
		},
	}
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			d, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			t, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "id=%s status=%s fire_time=%s slot=%q\n",
				t.ID, t.Status, t.FireTime.Format(time.RFC3339), t.Slot.String())
			for i, a := range t.Attempts {
				fmt.Fprintf(os.Stdout, "  attempt %d: %s %s %s\n",
					i+1, a.At.Format(time.RFC3339Nano), a.Outcome, a.Detail)
			}
			return nil
		},
	}
}

func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a stored task (picked up by the server at next start)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			d, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := store.CancelOpen(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "cancelled task %s\n", args[0])
			return nil
		},
	}
}
