package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/nozo-moto/datamonitor/pkg/format"
	"github.com/nozo-moto/datamonitor/pkg/types"
	"github.com/rivo/tview"
)

const shareRows = 10

// AppView lists per-app usage with a detail panel for the selected row.
type AppView struct {
	app        *tview.Application
	state      *State
	pages      *tview.Pages
	grid       *tview.Grid
	appList    *tview.Table
	statsPanel *tview.TextView
	shareView  *tview.TextView
	selected   string
}

func NewAppView(app *tview.Application, state *State) *AppView {
	av := &AppView{
		app:        app,
		state:      state,
		pages:      tview.NewPages(),
		appList:    tview.NewTable(),
		statsPanel: tview.NewTextView(),
		shareView:  tview.NewTextView(),
	}

	av.setupUI()
	return av
}

func (av *AppView) setupUI() {
	av.appList.SetBorders(false).SetTitle(" Apps (↑↓ select, / filter) ").SetBorder(true)
	av.appList.SetSelectable(true, false)
	av.appList.SetFixed(1, 0)
	av.appList.SetSelectedStyle(tcell.StyleDefault.Background(tcell.ColorDarkBlue))

	av.statsPanel.SetBorder(true).SetTitle(" App Usage ")
	av.statsPanel.SetDynamicColors(true)

	av.shareView.SetBorder(true).SetTitle(" Share of Total ")
	av.shareView.SetDynamicColors(true)

	av.grid = tview.NewGrid().
		SetRows(0, 0).
		SetColumns(0, 48).
		AddItem(av.appList, 0, 0, 2, 1, 0, 0, true).
		AddItem(av.statsPanel, 0, 1, 1, 1, 0, 0, false).
		AddItem(av.shareView, 1, 1, 1, 1, 0, 0, false)

	av.appList.SetSelectionChangedFunc(func(row, column int) {
		if ref := av.appList.GetCell(row, 0).GetReference(); ref != nil {
			av.selected = ref.(string)
			av.updateStatsPanel()
		}
	})

	av.pages.AddPage("apps", av.grid, true, true)
}

func (av *AppView) showFilterDialog() {
	input := tview.NewInputField().
		SetLabel("Filter apps: ").
		SetFieldWidth(30).
		SetText(av.state.Filter)

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			av.state.Filter = strings.TrimSpace(input.GetText())
			av.Update()
		}
		av.pages.RemovePage("filter")
		av.app.SetFocus(av.appList)
	})

	form := tview.NewForm().
		AddFormItem(input)
	form.SetBorder(true).
		SetTitle(" Filter Apps ").
		SetTitleAlign(tview.AlignCenter)

	av.pages.AddPage("filter", modal(form, 50, 5), true, true)
	av.app.SetFocus(input)
}

func (av *AppView) filtering() bool {
	return av.pages.HasPage("filter")
}

func modal(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

// Update redraws the table from the shared state, keeping the selection
// on the same package when it is still listed.
func (av *AppView) Update() {
	av.appList.Clear()

	headers := []string{"App", "Package", "Down", "Up", "Total", ""}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false)
		if col >= 2 && col <= 4 {
			cell.SetAlign(tview.AlignRight)
		}
		av.appList.SetCell(0, col, cell)
	}

	apps := av.state.Visible()
	selectedRow := 0
	for i, app := range apps {
		row := i + 1
		av.appList.SetCell(row, 0, tview.NewTableCell(tview.Escape(app.Name)).SetReference(app.Package).SetExpansion(1))
		av.appList.SetCell(row, 1, tview.NewTableCell(tview.Escape(app.Package)).SetTextColor(tcell.ColorGray))
		av.appList.SetCell(row, 2, tview.NewTableCell(format.Bytes(app.RxBytes)).SetAlign(tview.AlignRight).SetTextColor(tcell.ColorGreen))
		av.appList.SetCell(row, 3, tview.NewTableCell(format.Bytes(app.TxBytes)).SetAlign(tview.AlignRight).SetTextColor(tcell.ColorRed))
		av.appList.SetCell(row, 4, tview.NewTableCell(format.Bytes(app.TotalBytes)).SetAlign(tview.AlignRight))
		av.appList.SetCell(row, 5, tview.NewTableCell(bar(av.state.Share(app), 12)).SetTextColor(tcell.ColorAqua))
		if app.Package == av.selected {
			selectedRow = row
		}
	}

	switch {
	case selectedRow > 0:
		av.appList.Select(selectedRow, 0)
	case len(apps) > 0:
		av.selected = apps[0].Package
		av.appList.Select(1, 0)
	default:
		av.selected = ""
	}

	av.updateStatsPanel()
	av.updateShareView(apps)
}

func (av *AppView) updateStatsPanel() {
	var app *types.AppUsageInfo
	for i := range av.state.Usage {
		if av.state.Usage[i].Package == av.selected {
			app = &av.state.Usage[i]
			break
		}
	}

	if app == nil {
		if av.state.Loading {
			av.statsPanel.SetText("[gray]Loading...")
		} else {
			av.statsPanel.SetText("[gray]No usage recorded for this period")
		}
		return
	}

	icon := app.Icon
	if icon == "" {
		icon = "-"
	}
	stats := fmt.Sprintf(`[yellow]App:[white] %s
[yellow]Package:[white] %s
[yellow]Icon:[white] %s

[green]▼ Downloaded[white]  %s
[red]▲ Uploaded[white]    %s
[yellow]Total[white]         %s

[yellow]Share of %s:[white] %.1f%%
%s`,
		tview.Escape(app.Name),
		tview.Escape(app.Package),
		tview.Escape(icon),
		format.Bytes(app.RxBytes),
		format.Bytes(app.TxBytes),
		format.Bytes(app.TotalBytes),
		strings.ToLower(av.state.Period.Label()),
		av.state.Share(*app)*100,
		bar(av.state.Share(*app), 30),
	)

	av.statsPanel.SetText(stats)
}

func (av *AppView) updateShareView(apps []types.AppUsageInfo) {
	if len(apps) == 0 {
		av.shareView.SetText("")
		return
	}

	var builder strings.Builder
	for i, app := range apps {
		if i >= shareRows {
			builder.WriteString(fmt.Sprintf("[gray]... and %d more apps", len(apps)-shareRows))
			break
		}
		name := app.Name
		if r := []rune(name); len(r) > 14 {
			name = string(r[:13]) + "…"
		}
		builder.WriteString(fmt.Sprintf("%-14s [aqua]%s[white] %5.1f%%\n",
			tview.Escape(name), bar(av.state.Share(app), 20), av.state.Share(app)*100))
	}
	av.shareView.SetText(builder.String())
}

func (av *AppView) GetPages() *tview.Pages {
	return av.pages
}
