package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"stockdesk/internal/chat"
	"stockdesk/internal/httpapi"
	"stockdesk/pkg/stockdesk"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stockdesk-cli <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                 Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  status                  Show stockdesk-server status\n")
		fmt.Fprintf(os.Stderr, "  list                    Show the watchlist\n")
		fmt.Fprintf(os.Stderr, "  add SYMBOL [NAME]       Watch a symbol\n")
		fmt.Fprintf(os.Stderr, "  remove SYMBOL           Stop watching a symbol\n")
		fmt.Fprintf(os.Stderr, "  refresh                 Start a fetch cycle\n")
		fmt.Fprintf(os.Stderr, "  search QUERY            Look up assets\n")
		fmt.Fprintf(os.Stderr, "  history SYMBOL [DAYS]   Show daily closes\n")
		fmt.Fprintf(os.Stderr, "  news SYMBOL [DATE]      Show headlines (DATE is YYYY-MM-DD)\n")
		fmt.Fprintf(os.Stderr, "  ask MESSAGE...          Ask the assistant\n")
		fmt.Fprintf(os.Stderr, "  research MESSAGE...     Ask with live web research\n")
		fmt.Fprintf(os.Stderr, "\nSTOCKDESK_URL selects the server (default http://localhost:8000).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	baseURL := "http://localhost:8000"
	if u := os.Getenv("STOCKDESK_URL"); u != "" {
		baseURL = u
	}
	c := stockdesk.NewClient(baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "version":
		fmt.Printf("stockdesk-cli %s\n", version)
	case "status":
		err = status(ctx, c)
	case "list":
		err = list(ctx, c)
	case "add":
		if len(args) < 1 {
			usageExit()
		}
		var added httpapi.AddResponse
		if added, err = c.Add(ctx, args[0], strings.Join(args[1:], " ")); err == nil {
			fmt.Printf("added %s (%s)\n", added.Symbol, added.Name)
		}
	case "remove":
		if len(args) != 1 {
			usageExit()
		}
		if err = c.Remove(ctx, args[0]); err == nil {
			fmt.Printf("removed %s\n", strings.ToUpper(args[0]))
		}
	case "refresh":
		var started bool
		if started, err = c.Refresh(ctx); err == nil {
			if started {
				fmt.Println("refresh started")
			} else {
				fmt.Println("a refresh is already running")
			}
		}
	case "search":
		if len(args) < 1 {
			usageExit()
		}
		err = search(ctx, c, strings.Join(args, " "))
	case "history":
		if len(args) < 1 {
			usageExit()
		}
		days := 0
		if len(args) > 1 {
			if days, err = strconv.Atoi(args[1]); err != nil {
				usageExit()
			}
		}
		err = showHistory(ctx, c, args[0], days)
	case "news":
		if len(args) < 1 {
			usageExit()
		}
		var day time.Time
		if len(args) > 1 {
			if day, err = time.Parse("2006-01-02", args[1]); err != nil {
				usageExit()
			}
		}
		err = showNews(ctx, c, args[0], day)
	case "ask":
		if len(args) < 1 {
			usageExit()
		}
		err = ask(ctx, c, strings.Join(args, " "))
	case "research":
		if len(args) < 1 {
			usageExit()
		}
		err = research(ctx, c, strings.Join(args, " "))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usageExit()
	}

	switch {
	case err == nil:
	case errors.Is(err, stockdesk.ErrConflict), errors.Is(err, stockdesk.ErrNotFound):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usageExit() {
	flag.Usage()
	os.Exit(1)
}

func status(ctx context.Context, c *stockdesk.Client) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	market := "closed"
	if h.MarketOpen {
		market = "open"
	}
	fmt.Printf("status:     %s\n", h.Status)
	fmt.Printf("symbols:    %d (generation %d, pending %v)\n", h.Symbols, h.Generation, h.Pending)
	fmt.Printf("market:     %s\n", market)
	fmt.Printf("gateway:    %s\n", h.Gateway)
	fmt.Printf("assistant:  %s\n", h.Chat)
	fmt.Printf("mirror:     %v\n", h.Mirror)
	return nil
}

func list(ctx context.Context, c *stockdesk.Client) error {
	wl, err := c.Watchlist(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tNAME\tPRICE\tCHANGE\tSTATE\tUPDATED")
	for _, e := range wl.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%+.2f (%+.2f%%)\t%s\t%s\n",
			e.Symbol, e.DisplayName, humanize.CommafWithDigits(e.Price, 2),
			e.Change, e.ChangePercent, e.State, humanize.Time(e.LastUpdated))
	}
	w.Flush()
	if wl.Pending {
		fmt.Println("(update pending)")
	}
	return nil
}

func search(ctx context.Context, c *stockdesk.Client, q string) error {
	res, err := c.Search(ctx, q)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, a := range res.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Symbol, a.Name, a.Exchange)
	}
	return w.Flush()
}

func showHistory(ctx context.Context, c *stockdesk.Client, symbol string, days int) error {
	s, err := c.History(ctx, symbol, days)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d bars (%s)\n", s.Symbol, len(s.Bars), s.Source)
	for _, b := range s.Bars {
		fmt.Printf("%s  %10s  vol %s\n", b.Timestamp.Format("2006-01-02"),
			humanize.CommafWithDigits(b.Close, 2), humanize.Comma(b.Volume))
	}
	return nil
}

func showNews(ctx context.Context, c *stockdesk.Client, symbol string, day time.Time) error {
	n, err := c.News(ctx, symbol, day)
	if err != nil {
		return err
	}
	fmt.Printf("%s news for %s: %d articles\n", n.Symbol, n.Date, len(n.Articles))
	for _, a := range n.Articles {
		fmt.Printf("  %s  [%s] %s\n", a.Time.Format("15:04"), a.Source, a.Headline)
	}
	return nil
}

func ask(ctx context.Context, c *stockdesk.Client, msg string) error {
	p, err := c.Preferences(ctx)
	if err != nil {
		return err
	}
	reply, err := c.Chat(ctx, chat.Request{
		SessionID:      os.Getenv("STOCKDESK_SESSION"),
		Message:        msg,
		SelectedSymbol: p.SelectedSymbol,
	})
	if err != nil {
		return err
	}
	fmt.Println(reply.Content)
	for i, q := range reply.Questions {
		fmt.Printf("  %d. %s\n", i+1, q)
	}
	return nil
}

func research(ctx context.Context, c *stockdesk.Client, msg string) error {
	rep, err := c.Research(ctx, chat.Request{SessionID: os.Getenv("STOCKDESK_SESSION"), Message: msg})
	if err != nil {
		return err
	}
	if rep.Note != "" {
		fmt.Printf("(%s)\n\n", rep.Note)
	}
	fmt.Println(rep.Analysis.Content)
	if len(rep.Findings) > 0 {
		fmt.Println("\nSources:")
		for _, f := range rep.Findings {
			fmt.Printf("  %s\n    %s\n", f.Title, f.URL)
		}
	}
	return nil
}
