package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/neondata/internal/api"
	"github.com/lox/neondata/internal/download"
	"github.com/lox/neondata/internal/stack"
	"github.com/lox/neondata/internal/store"
	"github.com/lox/neondata/internal/tiles"
)

type cli struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name='env-file',help='Path to a .env file to load.'"`
	DB      string                   `help:"Path to the SQLite download ledger." default:"data/neondata.db"`
	Token   string                   `help:"NEON API token; lifts the portal rate limit." env:"NEON_API_TOKEN"`

	Download downloadCmd `cmd:"" help:"Download a data product into a filesToStack folder."`
	Stack    stackCmd    `cmd:"" help:"Merge downloaded monthly files into one CSV per table."`
	Tiles    tilesCmd    `cmd:"" help:"List the 1 km tile keys covering UTM coordinates."`
	IssueLog issueLogCmd `cmd:"" name:"issuelog" help:"Print a product's issue log as CSV."`
}

type appCtx struct {
	token string
	db    string
}

func (a *appCtx) client() *api.Client {
	return api.New(a.token)
}

func (a *appCtx) openLedger() (*store.Store, func(), error) {
	db, err := sql.Open("sqlite", a.db)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

type downloadCmd struct {
	Product            string   `arg:"" help:"Data product ID, e.g. DP1.10003.001."`
	Sites              []string `help:"Four-letter site codes; all sites when omitted." short:"s"`
	StartMonth         string   `help:"First month to include, YYYY-MM."`
	EndMonth           string   `help:"Last month to include, YYYY-MM."`
	Tier               string   `help:"Download package tier." enum:"basic,expanded" default:"basic"`
	IncludeProvisional bool     `help:"Also download files not in a tagged release."`
	Dest               string   `help:"Directory to create the filesToStack folder in." default:"."`
	Stack              bool     `help:"Stack the downloaded files when the transfer completes."`
}

func (c *downloadCmd) Run(app *appCtx) error {
	st, closeDB, err := app.openLedger()
	if err != nil {
		return err
	}
	defer closeDB()

	d := download.New(app.client(), st)
	dest, err := d.Run(download.Options{
		Product:            c.Product,
		Sites:              c.Sites,
		StartMonth:         c.StartMonth,
		EndMonth:           c.EndMonth,
		Tier:               c.Tier,
		IncludeProvisional: c.IncludeProvisional,
		DestDir:            c.Dest,
	})
	if err != nil {
		return err
	}

	if c.Stack {
		return runStack(dest, dest, c.Tier, false, app.client())
	}
	log.Printf("downloaded to %s; run 'neondata stack %s' to merge", dest, dest)
	return nil
}

type stackCmd struct {
	Path         string `arg:"" help:"A downloaded zip, or a folder of monthly zips or extracted files."`
	Out          string `help:"Directory for the stackedFiles output; defaults next to the input."`
	Tier         string `help:"Override the package tier inferred from file names." enum:",basic,expanded" default:""`
	KeepUnzipped bool   `help:"Keep intermediate unzipped folders after stacking."`
	Offline      bool   `help:"Skip the issue log and citation fetch."`
}

func (c *stackCmd) Run(app *appCtx) error {
	out := c.Out
	if out == "" {
		out = strings.TrimSuffix(c.Path, ".zip")
	}

	var src stack.MetadataSource
	if !c.Offline {
		src = app.client()
	}
	return runStack(c.Path, out, c.Tier, c.KeepUnzipped, src)
}

func runStack(path, out, tier string, keep bool, src stack.MetadataSource) error {
	s := stack.New(stack.Options{Tier: tier, KeepUnzipped: keep, Source: src})
	res, err := s.Stack(path)
	if err != nil {
		return err
	}

	if err := stack.WriteResult(res, out); err != nil {
		return err
	}

	for name, tbl := range res.Tables {
		log.Printf("stacked %s: %d rows", name, tbl.NumRows())
	}
	for _, w := range res.Report.Warnings {
		log.Printf("warning: %s", w)
	}
	for _, name := range res.Report.FailedTables {
		log.Printf("table %s produced no output", name)
	}
	log.Printf("wrote %s", out)
	return nil
}

type tilesCmd struct {
	Site     string    `arg:"" help:"Four-letter site code."`
	Easting  []float64 `help:"UTM easting coordinates, metres." required:""`
	Northing []float64 `help:"UTM northing coordinates, metres; pairs with --easting." required:""`
	Buffer   float64   `help:"Buffer radius around each coordinate, metres."`
	Product  string    `help:"Tile product ID to validate against, e.g. DP3.30015.001."`
}

func (c *tilesCmd) Run(app *appCtx) error {
	if c.Product != "" {
		if err := tiles.CheckTileProduct(c.Product); err != nil {
			return err
		}
	}

	ts, err := tiles.Resolve(tiles.Query{
		Site:      c.Site,
		Eastings:  c.Easting,
		Northings: c.Northing,
		Buffer:    c.Buffer,
	})
	if err != nil {
		return err
	}

	for _, k := range ts.Keys {
		fmt.Println(k)
	}
	log.Printf("%d tiles, easting %d-%d, northing %d-%d",
		len(ts.Keys), ts.Extent.MinEasting, ts.Extent.MaxEasting,
		ts.Extent.MinNorthing, ts.Extent.MaxNorthing)
	return nil
}

type issueLogCmd struct {
	Product string        `arg:"" help:"Data product ID."`
	MaxAge  time.Duration `help:"Serve from the local cache when fresher than this." default:"24h"`
}

func (c *issueLogCmd) Run(app *appCtx) error {
	st, closeDB, err := app.openLedger()
	if err != nil {
		return err
	}
	defer closeDB()

	if payload, ok, err := st.GetCachedIssueLog(c.Product, time.Now().UTC().Add(-c.MaxAge)); err == nil && ok {
		fmt.Print(payload)
		return nil
	}

	tbl, err := app.client().IssueLog(c.Product)
	if err != nil {
		return err
	}

	var sb strings.Builder
	if err := tbl.WriteCSV(&sb); err != nil {
		return err
	}
	if err := st.CacheIssueLog(c.Product, sb.String(), time.Now().UTC()); err != nil {
		log.Printf("issue log cache write failed: %v", err)
	}
	fmt.Print(sb.String())
	return nil
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("neondata"),
		kong.Description("Download, stack, and query NEON observational data."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)
	err := ctx.Run(&appCtx{token: c.Token, db: c.DB})
	ctx.FatalIfErrorf(err)
}
