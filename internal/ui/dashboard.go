package ui

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/nozo-moto/datamonitor/pkg/format"
	"github.com/nozo-moto/datamonitor/pkg/types"
	"github.com/rivo/tview"
)

type DashboardOptions struct {
	// RefreshInterval reloads the selected period periodically. Zero disables it.
	RefreshInterval time.Duration
	// Instructions are shown while usage access is missing.
	Instructions string
	Logger       *log.Logger
}

type Dashboard struct {
	app    *tview.Application
	source UsageSource
	opts   DashboardOptions
	logger *log.Logger

	pages          *tview.Pages
	header         *tview.TextView
	footer         *tview.TextView
	permissionView *tview.TextView
	appView        *AppView

	state  *State
	ctx    context.Context
	cancel context.CancelFunc

	// queueUpdate hands f to the UI goroutine. It is the application's
	// QueueUpdateDraw outside of tests.
	queueUpdate func(f func())
}

func NewDashboard(source UsageSource, opts DashboardOptions) *Dashboard {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	app := tview.NewApplication()
	state := NewState()
	d := &Dashboard{
		app:     app,
		source:  source,
		opts:    opts,
		logger:  opts.Logger,
		pages:   tview.NewPages(),
		state:   state,
		appView: NewAppView(app, state),
	}
	d.queueUpdate = func(f func()) { app.QueueUpdateDraw(f) }
	return d
}

func (d *Dashboard) Run(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	d.setupUI()
	d.load(d.state.Period)

	if d.opts.RefreshInterval > 0 {
		go d.refreshLoop()
	}
	go func() {
		<-d.ctx.Done()
		d.app.Stop()
	}()

	return d.app.Run()
}

func (d *Dashboard) setupUI() {
	d.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	d.header.SetBorder(true).
		SetTitle(" Data Usage ")

	d.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[yellow]1[white] past hour  [yellow]2[white] today  [yellow]3[white] yesterday  " +
			"[yellow]/[white] filter  [yellow]r[white] reload  [yellow]q[white] quit")

	d.permissionView = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	d.permissionView.SetBorder(true).
		SetTitle(" Usage Access Required ")
	d.permissionView.SetText(tview.Escape(d.opts.Instructions))

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.header, 3, 1, false).
		AddItem(d.appView.GetPages(), 0, 1, true).
		AddItem(d.footer, 1, 1, false)

	d.pages.AddPage("main", mainFlex, true, true)
	d.pages.AddPage("permission", d.permissionView, true, false)

	d.app.SetRoot(d.pages, true).
		SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if d.appView.filtering() {
				return event
			}

			switch event.Key() {
			case tcell.KeyEsc:
				d.app.Stop()
				return nil
			case tcell.KeyRune:
				switch event.Rune() {
				case 'q':
					d.app.Stop()
					return nil
				case 'r':
					d.load(d.state.Period)
					return nil
				case '1':
					d.load(types.PastHour)
					return nil
				case '2':
					d.load(types.Today)
					return nil
				case '3':
					d.load(types.Yesterday)
					return nil
				case '/':
					if d.state.HasPermission {
						d.appView.showFilterDialog()
					}
					return nil
				}
			}
			return event
		})
}

// load starts loading period p. It must run on the UI goroutine; the query
// itself runs in the background and only the latest load is applied.
func (d *Dashboard) load(p types.Period) {
	gen := d.state.BeginLoad(p)
	d.render()

	go func() {
		start := time.Now()
		granted := d.source.HasPermission()
		var list []types.AppUsageInfo
		if granted {
			list = d.source.ForPeriod(d.ctx, p)
		}
		d.logger.Printf("dashboard: loaded %s: %d apps in %s", p, len(list), time.Since(start).Round(time.Millisecond))

		d.queue(func() {
			if d.state.FinishLoad(gen, granted, list) {
				d.render()
			}
		})
	}()
}

// queue runs f on the UI goroutine unless the dashboard is shutting down.
// Once Run has returned nothing drains the update channel, so a late send
// would block its goroutine forever.
func (d *Dashboard) queue(f func()) bool {
	if d.ctx.Err() != nil {
		return false
	}
	d.queueUpdate(f)
	return true
}

func (d *Dashboard) refreshLoop() {
	ticker := time.NewTicker(d.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.queue(func() {
				if !d.state.Loading {
					d.load(d.state.Period)
				}
			})
		}
	}
}

func (d *Dashboard) render() {
	if !d.state.Loading && !d.state.HasPermission {
		d.pages.SwitchToPage("permission")
		return
	}
	d.pages.SwitchToPage("main")

	d.updateHeader()
	d.appView.Update()
}

func (d *Dashboard) updateHeader() {
	var tabs []string
	for i, p := range types.Periods {
		label := fmt.Sprintf("%d %s", i+1, p.Label())
		if p == d.state.Period {
			label = "[black:yellow] " + label + " [-:-]"
		} else {
			label = " " + label + " "
		}
		tabs = append(tabs, label)
	}

	status := fmt.Sprintf("[green]Total: %s[white]  (%d apps)", format.Bytes(d.state.TotalBytes), len(d.state.Usage))
	if d.state.Loading {
		status = "[gray]Loading..."
	}
	d.header.SetText(strings.Join(tabs, " ") + "    " + status)
}
