// Package main is a command line client for the check-in action API
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/kosumphisai/koshare/backend/internal/client"
	"github.com/kosumphisai/koshare/backend/internal/logger"
)

const usage = `Usage: koshare [options] <command> [args]

Commands:
  login PIN                 Log in and store the session token
  logout                    Drop the session
  verify                    Check the stored token
  list [-thumbnails] [PAGE] [LIMIT]
                            Show one page of check-ins, newest first
  save [flags]              Save a check-in (see: koshare save -h)
  thumbnail ID              Print the thumbnail payload of a check-in
  delete ID                 Delete a check-in and its thumbnail
  markers                   Print every plottable check-in once
  share ID                  Print an HTML share card for a check-in
  stats                     Show visit and location counts
  visit                     Increment the visit counter
  set-pin ADMIN_SECRET PIN  Configure the shared PIN
  change-pin NEW_PIN        Replace the shared PIN

Options:
`

func main() {
	_ = godotenv.Load()

	var (
		baseURL   = flag.String("url", envOr("KOSHARE_URL", "http://localhost:8080"), "API base URL")
		tokenPath = flag.String("token-file", defaultTokenPath(), "File holding the session token")
		timeout   = flag.Duration("timeout", client.DefaultTimeout, "Timeout per request")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Format = "text"
	logCfg.Output = "stderr"
	log := logger.New(logCfg)

	tokens, err := client.NewFileTokenStore(*tokenPath)
	if err != nil {
		log.Error("Failed to load token", "error", err)
		os.Exit(1)
	}

	c := client.New(client.Config{BaseURL: *baseURL, Tokens: tokens, Timeout: *timeout})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cli := &cli{client: c, tokens: tokens, log: log, out: os.Stdout}
	if err := cli.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "error: %s (%s)\n", apiErr.Message, apiErr.Code)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
	if err := tokens.Err(); err != nil {
		log.Warn("Failed to persist token", "error", err)
	}
}

type cli struct {
	client *client.Client
	tokens *client.FileTokenStore
	log    *slog.Logger
	out    io.Writer
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		if len(args) != 1 {
			return errors.New("login requires a PIN")
		}
		if err := c.client.Login(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Logged in until %s\n", c.tokens.ExpiresAt().Local().Format(time.RFC1123))
		return nil

	case "logout":
		return c.client.Logout(ctx)

	case "verify":
		valid, err := c.client.VerifyToken(ctx)
		if err != nil {
			return err
		}
		fmt.Println(map[bool]string{true: "valid", false: "not logged in"}[valid])
		return nil

	case "list":
		return c.list(ctx, args)

	case "save":
		return c.save(ctx, args)

	case "thumbnail":
		if len(args) != 1 {
			return errors.New("thumbnail requires an id")
		}
		thumb, err := c.client.GetThumbnail(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(thumb)
		return nil

	case "delete":
		if len(args) != 1 {
			return errors.New("delete requires an id")
		}
		if err := c.client.DeleteCheckIn(ctx, args[0]); err != nil {
			return c.reauth(err)
		}
		fmt.Println("deleted")
		return nil

	case "markers":
		o := client.NewOrchestrator(c.client, c.tokens, client.OrchestratorConfig{}, c.log)
		markers, err := o.LoadMarkers(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(markers)

	case "share":
		if len(args) != 1 {
			return errors.New("share requires an id")
		}
		return c.share(ctx, args[0])

	case "stats":
		stats, err := c.client.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("visits: %d\nlocations: %d\n", stats.VisitCount, stats.TotalLocations)
		return nil

	case "visit":
		n, err := c.client.IncrementVisit(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("visits: %d\n", n)
		return nil

	case "set-pin":
		if len(args) != 2 {
			return errors.New("set-pin requires ADMIN_SECRET and PIN")
		}
		return c.client.SetPin(ctx, args[0], args[1])

	case "change-pin":
		if len(args) != 1 {
			return errors.New("change-pin requires the new PIN")
		}
		return c.reauth(c.client.ChangePin(ctx, args[0]))

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	withThumbs := fs.Bool("thumbnails", false, "Fetch thumbnails and show their size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()

	page, limit := intArg(args, 0, 1), intArg(args, 1, 20)
	p, err := c.client.GetCheckIns(ctx, page, limit)
	if err != nil {
		return err
	}

	sizes := map[string]int{}
	if *withThumbs {
		var mu sync.Mutex
		cache := client.NewThumbnailCache(c.client, c.log)
		ids := make([]string, 0, len(p.Items))
		for _, item := range p.Items {
			if !item.HasThumbnail {
				continue
			}
			cache.Watch(item.ID, func(id, thumbnail string) {
				mu.Lock()
				sizes[id] = len(thumbnail)
				mu.Unlock()
			})
			ids = append(ids, item.ID)
		}
		cache.MarkVisible(ctx, ids...)
		cache.Wait()
	}

	for _, item := range p.Items {
		line := fmt.Sprintf("%s  %-30s  %9.5f %10.5f  %s",
			item.ID, item.LocationName, item.Latitude, item.Longitude,
			item.Timestamp.Local().Format("2006-01-02 15:04"))
		if n, ok := sizes[item.ID]; ok {
			line += fmt.Sprintf("  [thumbnail %d bytes]", n)
		}
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprintf(c.out, "page %d/%d, %d check-ins\n", p.Page, p.TotalPages, p.Total)
	return nil
}

func (c *cli) share(ctx context.Context, id string) error {
	o := client.NewOrchestrator(c.client, c.tokens, client.OrchestratorConfig{
		Compositor: client.CompositorFunc(shareCard),
	}, c.log)

	markers, err := o.LoadMarkers(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(markers, func(m client.Marker) bool { return m.ID == id })
	if idx < 0 {
		return fmt.Errorf("check-in %s not found or has no location", id)
	}
	m := markers[idx]

	photo, err := c.client.GetThumbnail(ctx, id)
	if err != nil {
		return err
	}
	card, err := o.Share(photo, client.CheckIn{
		ID:           m.ID,
		LocationName: m.LocationName,
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		Category:     m.Category,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, card)
	return nil
}

// shareCard renders a check-in as a small HTML card with a map link
func shareCard(photo string, record client.CheckIn) (string, error) {
	var b strings.Builder
	b.WriteString("<figure class=\"koshare-card\">\n")
	if strings.HasPrefix(photo, "data:image/") {
		fmt.Fprintf(&b, "  <img src=\"%s\" alt=\"%s\">\n", html.EscapeString(photo), html.EscapeString(record.LocationName))
	}
	fmt.Fprintf(&b, "  <figcaption>%s", html.EscapeString(record.LocationName))
	if record.Category != "" {
		fmt.Fprintf(&b, " (%s)", html.EscapeString(record.Category))
	}
	fmt.Fprintf(&b, "<br><a href=\"https://www.google.com/maps?q=%f,%f\">%.5f, %.5f</a></figcaption>\n",
		record.Latitude, record.Longitude, record.Latitude, record.Longitude)
	b.WriteString("</figure>")
	return b.String(), nil
}

func (c *cli) save(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	var (
		name     = fs.String("name", "", "Location name (required)")
		lat      = fs.Float64("lat", 0, "Latitude")
		lng      = fs.Float64("lng", 0, "Longitude")
		desc     = fs.String("desc", "", "Description")
		category = fs.String("category", "", "Category")
		image    = fs.String("image", "", "Thumbnail image file")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var thumbnail string
	if *image != "" {
		data, err := os.ReadFile(*image)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		thumbnail = "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	}

	o := client.NewOrchestrator(c.client, c.tokens, client.OrchestratorConfig{}, c.log)

	report, err := o.Save(ctx, client.CheckInInput{
		LocationName: *name,
		Latitude:     *lat,
		Longitude:    *lng,
		Description:  *desc,
		Category:     *category,
	}, thumbnail)
	if err != nil {
		return c.reauth(err)
	}

	fmt.Printf("saved %s (%s)\n", report.Record.ID, report.Outcome)
	return nil
}

// reauth turns a lost session into a hint to log in again
func (c *cli) reauth(err error) error {
	if errors.Is(err, client.ErrReauthRequired) || client.IsAuthRequired(err) {
		c.tokens.Clear()
		return errors.New("session expired, run `koshare login PIN` again")
	}
	return err
}

func intArg(args []string, i, def int) int {
	if i >= len(args) {
		return def
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return def
	}
	return n
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".koshare-token.json"
	}
	return filepath.Join(dir, "koshare", "token.json")
}
