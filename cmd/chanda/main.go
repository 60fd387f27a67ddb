package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"chanda/internal/audit"
	"chanda/internal/cli"
	"chanda/internal/core"
	"chanda/internal/idempotency"
	"chanda/internal/services"
)

const dateLayout = "2006-01-02"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: chanda <command> [flags]

Commands:
  create-year       open a new festival year (closes the previous one)
  update-year       change an open year's installment settings
  close-year        close a year and freeze its balance
  list-years        list the club's years, newest first
  report            print a year's aggregated report
  list-records      list a year's fees, donations and expenses
  add-subscription  enroll a member into a year
  record-payment    mark an installment as paid
  add-fee           record a member fee
  add-donation      record a donation
  add-expense       record a pending expense
  review-expense    approve or reject a pending expense

Every command takes --club and --actor identifying the caller.
`)
	os.Exit(2)
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	if len(os.Args) < 2 {
		usage()
	}

	cfg := cli.LoadAndValidateConfig(logger)
	store := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer store.Close()

	var auditPub *audit.Publisher
	if cfg.AMQPURL != "" {
		var err error
		auditPub, err = audit.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Audit publisher unavailable, continuing without it", "error", err)
		} else {
			defer auditPub.Close()
		}
	}

	guard := idempotency.New(store, cfg.IdempotencyTTL)
	years := services.NewYearService(store, auditPub)
	payments := services.NewPaymentService(store, guard, auditPub)
	records := services.NewRecordService(store, auditPub)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "create-year":
		err = runCreateYear(ctx, years, os.Args[2:])
	case "update-year":
		err = runUpdateYear(ctx, years, os.Args[2:])
	case "close-year":
		err = runCloseYear(ctx, years, os.Args[2:])
	case "list-years":
		err = runListYears(ctx, years, os.Args[2:])
	case "report":
		err = runReport(ctx, years, os.Args[2:])
	case "list-records":
		err = runListRecords(ctx, records, os.Args[2:])
	case "add-subscription":
		err = runAddSubscription(ctx, payments, os.Args[2:])
	case "record-payment":
		err = runRecordPayment(ctx, payments, os.Args[2:])
	case "add-fee":
		err = runAddFee(ctx, records, os.Args[2:])
	case "add-donation":
		err = runAddDonation(ctx, records, os.Args[2:])
	case "add-expense":
		err = runAddExpense(ctx, records, os.Args[2:])
	case "review-expense":
		err = runReviewExpense(ctx, records, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func principalFlags(fs *flag.FlagSet) (club, actor, role *string) {
	club = fs.String("club", "", "club id (required)")
	actor = fs.String("actor", "", "acting user id (required)")
	role = fs.String("role", "treasurer", "role of the acting user")
	return
}

func parsePrincipal(fs *flag.FlagSet, club, actor, role *string) (core.Principal, error) {
	if *club == "" || *actor == "" {
		fs.Usage()
		return core.Principal{}, fmt.Errorf("--club and --actor are required")
	}
	return core.Principal{ID: *actor, ClubID: *club, Role: *role}, nil
}

func parseMoney(s, what string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	return core.Money{Cents: cents}, nil
}

func runCreateYear(ctx context.Context, svc *services.YearService, args []string) error {
	fs := flag.NewFlagSet("create-year", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	name := fs.String("name", "", "display name of the year")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD)")
	freq := fs.String("frequency", "monthly", "installment frequency: weekly, monthly or none")
	count := fs.Int("installments", 0, "number of installments")
	amount := fs.String("amount", "0", "amount per installment, e.g. 50.00")
	opening := fs.String("opening", "0", "manual opening balance for a club's first year")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	startDate, err := time.Parse(dateLayout, *start)
	if err != nil {
		return fmt.Errorf("invalid start date %q: %w", *start, err)
	}
	endDate, err := time.Parse(dateLayout, *end)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", *end, err)
	}
	perInstallment, err := parseMoney(*amount, "installment amount")
	if err != nil {
		return err
	}
	openingBalance, err := parseMoney(*opening, "opening balance")
	if err != nil {
		return err
	}

	year, err := svc.Create(ctx, principal, services.CreateYearInput{
		Name:                 *name,
		StartDate:            startDate,
		EndDate:              endDate,
		Frequency:            core.Frequency(*freq),
		TotalInstallments:    *count,
		AmountPerInstallment: perInstallment,
		ManualOpeningBalance: openingBalance,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created year %s (%s) opening balance %s\n", year.ID, year.Name, year.OpeningBalance)
	return nil
}

func runUpdateYear(ctx context.Context, svc *services.YearService, args []string) error {
	fs := flag.NewFlagSet("update-year", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	freq := fs.String("frequency", "", "installment frequency: weekly, monthly or none")
	count := fs.Int("installments", 0, "number of installments")
	amount := fs.String("amount", "0", "amount per installment")
	confirmForfeit := fs.Bool("confirm-forfeit", false, "acknowledge that switching to frequency none discards schedules")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	perInstallment, err := parseMoney(*amount, "installment amount")
	if err != nil {
		return err
	}

	year, err := svc.UpdateSettings(ctx, principal, *yearID, services.UpdateYearSettingsInput{
		Frequency:            core.Frequency(*freq),
		TotalInstallments:    *count,
		AmountPerInstallment: perInstallment,
		ConfirmForfeit:       *confirmForfeit,
	})
	if err != nil {
		return err
	}
	fmt.Printf("updated year %s: %s x%d at %s\n",
		year.ID, year.Frequency, year.TotalInstallments, year.AmountPerInstallment)
	return nil
}

func runCloseYear(ctx context.Context, svc *services.YearService, args []string) error {
	fs := flag.NewFlagSet("close-year", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	year, err := svc.Close(ctx, principal, *yearID)
	if err != nil {
		return err
	}
	fmt.Printf("closed year %s with balance %s\n", year.ID, year.ClosingBalance)
	return nil
}

func runListYears(ctx context.Context, svc *services.YearService, args []string) error {
	fs := flag.NewFlagSet("list-years", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	years, err := svc.ListYears(ctx, principal)
	if err != nil {
		return err
	}
	for _, y := range years {
		state := "open"
		if y.IsClosed {
			state = "closed"
		}
		fmt.Printf("%s  %-12s %s  opening %s  closing %s\n",
			y.ID, y.Name, state, y.OpeningBalance, y.ClosingBalance)
	}
	return nil
}

func runReport(ctx context.Context, svc *services.YearService, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	sum, err := svc.Report(ctx, principal, *yearID)
	if err != nil {
		return err
	}
	fmt.Printf("Year:              %s (%s)\n", sum.Year.Name, sum.Year.ID)
	fmt.Printf("Opening balance:   %s\n", sum.Year.OpeningBalance)
	fmt.Printf("Paid installments: %s\n", sum.PaidSubs)
	fmt.Printf("Member fees:       %s\n", sum.Fees)
	fmt.Printf("Donations:         %s\n", sum.Donations)
	fmt.Printf("Total income:      %s\n", sum.Income())
	fmt.Printf("Approved expenses: %s\n", sum.ApprovedExpense)
	fmt.Printf("Balance:           %s\n", sum.Balance)
	for _, w := range sum.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	return nil
}

func runListRecords(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("list-records", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	recs, err := svc.ListRecords(ctx, principal, *yearID)
	if err != nil {
		return err
	}
	for _, f := range recs.Fees {
		fmt.Printf("fee       %s  member %s  %s  %s\n", f.ID, f.MemberID, f.Amount, f.Description)
	}
	for _, d := range recs.Donations {
		fmt.Printf("donation  %s  from %s  %s\n", d.ID, d.DonorName, d.Amount)
	}
	for _, e := range recs.Expenses {
		fmt.Printf("expense   %s  %-8s  %s  %s\n", e.ID, e.Status, e.Amount, e.Description)
	}
	return nil
}

func runAddSubscription(ctx context.Context, svc *services.PaymentService, args []string) error {
	fs := flag.NewFlagSet("add-subscription", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	memberID := fs.String("member", "", "member id")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	sub, err := svc.CreateSubscription(ctx, principal, *yearID, *memberID)
	if err != nil {
		return err
	}
	fmt.Printf("subscription %s for member %s: %d installments, total due %s\n",
		sub.ID, sub.MemberID, len(sub.Installments), sub.TotalDue)
	return nil
}

func runRecordPayment(ctx context.Context, svc *services.PaymentService, args []string) error {
	fs := flag.NewFlagSet("record-payment", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	subID := fs.String("subscription", "", "subscription id")
	yearID := fs.String("year", "", "year id (with --member, instead of --subscription)")
	memberID := fs.String("member", "", "member id (with --year, instead of --subscription)")
	seq := fs.Int("seq", 0, "installment number, starting at 1")
	key := fs.String("key", "", "idempotency key (required)")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	if *subID == "" && *memberID != "" {
		sub, err := svc.FindSubscription(ctx, principal, *yearID, *memberID)
		if err != nil {
			return err
		}
		*subID = sub.ID
	}
	resp, replayed, err := svc.RecordPayment(ctx, principal, services.RecordPaymentInput{
		SubscriptionID: *subID,
		Seq:            *seq,
		IdempotencyKey: *key,
	})
	if err != nil {
		return err
	}
	if replayed {
		fmt.Println("already recorded, replaying stored result:")
	}
	fmt.Printf("%d %s\n", resp.Status, resp.Body)
	return nil
}

func runAddFee(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("add-fee", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	memberID := fs.String("member", "", "member id")
	desc := fs.String("description", "", "fee description")
	amount := fs.String("amount", "", "amount, e.g. 25.00")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	m, err := parseMoney(*amount, "fee amount")
	if err != nil {
		return err
	}
	fee, err := svc.AddMemberFee(ctx, principal, *yearID, *memberID, *desc, m)
	if err != nil {
		return err
	}
	fmt.Printf("recorded fee %s: %s\n", fee.ID, fee.Amount)
	return nil
}

func runAddDonation(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("add-donation", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	donor := fs.String("donor", "", "donor name")
	amount := fs.String("amount", "", "amount, e.g. 100.00")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	m, err := parseMoney(*amount, "donation amount")
	if err != nil {
		return err
	}
	don, err := svc.AddDonation(ctx, principal, *yearID, *donor, m)
	if err != nil {
		return err
	}
	fmt.Printf("recorded donation %s: %s\n", don.ID, don.Amount)
	return nil
}

func runAddExpense(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("add-expense", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	yearID := fs.String("year", "", "year id")
	desc := fs.String("description", "", "expense description")
	amount := fs.String("amount", "", "amount, e.g. 300.00")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	m, err := parseMoney(*amount, "expense amount")
	if err != nil {
		return err
	}
	exp, err := svc.AddExpense(ctx, principal, *yearID, *desc, m)
	if err != nil {
		return err
	}
	fmt.Printf("recorded expense %s (%s): %s\n", exp.ID, exp.Status, exp.Amount)
	return nil
}

func runReviewExpense(ctx context.Context, svc *services.RecordService, args []string) error {
	fs := flag.NewFlagSet("review-expense", flag.ExitOnError)
	club, actor, role := principalFlags(fs)
	expenseID := fs.String("expense", "", "expense id")
	status := fs.String("status", "", "approved or rejected")
	fs.Parse(args)

	principal, err := parsePrincipal(fs, club, actor, role)
	if err != nil {
		return err
	}
	if err := svc.ReviewExpense(ctx, principal, *expenseID, core.ExpenseStatus(*status)); err != nil {
		return err
	}
	fmt.Printf("expense %s marked %s\n", *expenseID, *status)
	return nil
}
