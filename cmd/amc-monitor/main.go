/*
Ce programme, `amc-monitor`, est un tableau de bord terminal du portefeuille
de contrats AMC et de location.

Il interroge périodiquement la console (`GET /dashboard` et
`GET /contracts?status=expiring_soon`) et affiche :
- les compteurs par statut et la valeur du portefeuille ;
- un indicateur de santé (part de contrats expirés, dépassements d'interventions) ;
- la liste des contrats à relancer ;
- l'évolution du nombre de contrats arrivant à échéance.

Hors terminal (sortie redirigée), un seul instantané texte est écrit.
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"golang.org/x/term"

	"purifier-console/internal/service"
)

const (
	historySize = 50
	rowWidth    = 95
)

// HealthStatus définit les niveaux de santé affichés.
type HealthStatus int

const (
	HealthGood HealthStatus = iota
	HealthWarning
	HealthCritical
)

// monitorState conserve le dernier relevé et l'historique des échéances.
type monitorState struct {
	mu              sync.RWMutex
	dashboard       service.Dashboard
	expiring        []service.ContractView
	expiringHistory []float64
	lastUpdate      time.Time
	errorCount      int
	lastError       string
}

func (s *monitorState) apply(d service.Dashboard, expiring []service.ContractView, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboard = d
	s.expiring = expiring
	s.expiringHistory = append(s.expiringHistory, float64(d.ExpiringSoon))
	if len(s.expiringHistory) > historySize {
		s.expiringHistory = s.expiringHistory[1:]
	}
	s.lastUpdate = at
	s.lastError = ""
}

func (s *monitorState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	s.lastError = err.Error()
}

// fetch lit le tableau de bord et les contrats à relancer.
func fetch(ctx context.Context, client *http.Client, baseURL string) (service.Dashboard, []service.ContractView, error) {
	var d service.Dashboard
	if err := getJSON(ctx, client, baseURL+"/dashboard", &d); err != nil {
		return service.Dashboard{}, nil, err
	}
	var expiring []service.ContractView
	if err := getJSON(ctx, client, baseURL+"/contracts?status=expiring_soon", &expiring); err != nil {
		return service.Dashboard{}, nil, err
	}
	return d, expiring, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: statut %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// portfolioHealth classe le portefeuille selon la part de contrats expirés.
func portfolioHealth(d service.Dashboard) (HealthStatus, string, ui.Color) {
	if d.Total == 0 {
		return HealthGood, "● VIDE", ui.ColorWhite
	}
	expiredPct := float64(d.Expired) / float64(d.Total) * 100
	switch {
	case expiredPct >= 25:
		return HealthCritical, fmt.Sprintf("● CRITIQUE (%.0f%% expirés)", expiredPct), ui.ColorRed
	case expiredPct >= 10 || d.Overages > 0:
		return HealthWarning, fmt.Sprintf("● ATTENTION (%.0f%% expirés)", expiredPct), ui.ColorYellow
	default:
		return HealthGood, "● SAIN", ui.ColorGreen
	}
}

// expiringRows formate les contrats à relancer, le plus proche en premier.
func expiringRows(views []service.ContractView) []string {
	if len(views) == 0 {
		return []string{"Aucun contrat à relancer"}
	}
	sorted := append([]service.ContractView(nil), views...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Status.DaysLeft < sorted[j].Status.DaysLeft
	})
	rows := make([]string, 0, len(sorted))
	for _, v := range sorted {
		row := fmt.Sprintf("⏳ J-%-3d %-12s %-14s %-16s %s", v.Status.DaysLeft, v.CustomerRef, v.ProductRef, v.PlanName, v.EndDate.Format(time.DateOnly))
		if v.Overage {
			row += " ⚠️"
		}
		if len([]rune(row)) > rowWidth {
			row = string([]rune(row)[:rowWidth-3]) + "..."
		}
		rows = append(rows, row)
	}
	return rows
}

func summaryRows(d service.Dashboard) [][]string {
	return [][]string{
		{"Métrique", "Valeur"},
		{"Contrats", fmt.Sprintf("%d", d.Total)},
		{"Actifs", fmt.Sprintf("%d", d.Active)},
		{"À échéance (≤30 j)", fmt.Sprintf("%d", d.ExpiringSoon)},
		{"Expirés", fmt.Sprintf("%d", d.Expired)},
		{"Dépassements", fmt.Sprintf("%d", d.Overages)},
		{"Valeur AMC", d.AMCValue.StringFixed(2)},
		{"Valeur location", d.RentalValue.StringFixed(2)},
		{"Reste à encaisser", d.Outstanding.StringFixed(2)},
	}
}

func createSummaryTable() *widgets.Table {
	table := widgets.NewTable()
	table.Title = "Portefeuille"
	table.Rows = summaryRows(service.Dashboard{})
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowStyles[0] = ui.NewStyle(ui.ColorYellow, ui.ColorClear, ui.ModifierBold)
	table.SetRect(0, 0, 50, 12)
	table.ColumnWidths = []int{28, 20}
	return table
}

func createHealthTable() *widgets.Table {
	table := widgets.NewTable()
	table.Title = "Santé"
	table.Rows = [][]string{{"Indicateur", "Statut"}, {"Portefeuille", "-"}, {"Console", "-"}, {"Dernier relevé", "-"}}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowStyles[0] = ui.NewStyle(ui.ColorYellow, ui.ColorClear, ui.ModifierBold)
	table.SetRect(50, 0, 100, 12)
	table.ColumnWidths = []int{18, 30}
	return table
}

func createExpiringList() *widgets.List {
	list := widgets.NewList()
	list.Title = "Contrats à relancer"
	list.Rows = []string{"En attente de données..."}
	list.TextStyle = ui.NewStyle(ui.ColorWhite)
	list.SelectedRowStyle = ui.NewStyle(ui.ColorBlack, ui.ColorWhite)
	list.SetRect(0, 12, 100, 24)
	return list
}

func createExpiringChart() *widgets.Plot {
	plot := widgets.NewPlot()
	plot.Title = "Contrats à échéance"
	plot.Data = [][]float64{{0, 0}}
	plot.SetRect(0, 24, 100, 34)
	plot.AxesColor = ui.ColorWhite
	plot.LineColors[0] = ui.ColorYellow
	plot.Marker = widgets.MarkerDot
	return plot
}

func updateUI(s *monitorState, summary, health *widgets.Table, list *widgets.List, chart *widgets.Plot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary.Rows = summaryRows(s.dashboard)

	_, healthText, healthColor := portfolioHealth(s.dashboard)
	consoleText, consoleColor := "● JOIGNABLE", ui.ColorGreen
	if s.lastError != "" {
		consoleText, consoleColor = fmt.Sprintf("● INJOIGNABLE (%d)", s.errorCount), ui.ColorRed
	}
	last := "-"
	if !s.lastUpdate.IsZero() {
		last = s.lastUpdate.Format("15:04:05")
	}
	health.Rows = [][]string{
		{"Indicateur", "Statut"},
		{"Portefeuille", healthText},
		{"Console", consoleText},
		{"Dernier relevé", last},
	}
	health.RowStyles = map[int]ui.Style{
		0: ui.NewStyle(ui.ColorYellow, ui.ColorClear, ui.ModifierBold),
		1: ui.NewStyle(healthColor, ui.ColorClear, ui.ModifierBold),
		2: ui.NewStyle(consoleColor, ui.ColorClear),
		3: ui.NewStyle(ui.ColorCyan, ui.ColorClear),
	}

	list.Rows = expiringRows(s.expiring)

	// Plot exige au moins deux points.
	if len(s.expiringHistory) > 1 {
		chart.Data = [][]float64{append([]float64(nil), s.expiringHistory...)}
	}
}

func poll(ctx context.Context, s *monitorState, client *http.Client, baseURL string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	d, expiring, err := fetch(ctx, client, baseURL)
	if err != nil {
		s.fail(err)
		return
	}
	s.apply(d, expiring, time.Now())
}

// printSnapshot écrit un relevé texte quand la sortie n'est pas un terminal.
func printSnapshot(w io.Writer, s *monitorState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastError != "" {
		fmt.Fprintf(w, "❌ console injoignable: %s\n", s.lastError)
		return
	}
	for _, row := range summaryRows(s.dashboard)[1:] {
		fmt.Fprintf(w, "%-22s %s\n", row[0], row[1])
	}
	_, healthText, _ := portfolioHealth(s.dashboard)
	fmt.Fprintf(w, "%-22s %s\n", "Santé", healthText)
	for _, row := range expiringRows(s.expiring) {
		fmt.Fprintln(w, row)
	}
}

func main() {
	baseURL := strings.TrimRight(getEnv("CONSOLE_API_URL", "http://localhost:8080"), "/")
	interval, err := time.ParseDuration(getEnv("MONITOR_INTERVAL", "5s"))
	if err != nil || interval <= 0 {
		interval = 5 * time.Second
	}

	client := &http.Client{Timeout: 10 * time.Second}
	state := &monitorState{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		poll(ctx, state, client, baseURL)
		printSnapshot(os.Stdout, state)
		return
	}

	if err := ui.Init(); err != nil {
		log.Fatalf("Erreur lors de l'initialisation de l'interface: %v", err)
	}
	defer ui.Close()

	summary := createSummaryTable()
	health := createHealthTable()
	list := createExpiringList()
	chart := createExpiringChart()

	render := func() {
		updateUI(state, summary, health, list, chart)
		ui.Render(summary, health, list, chart)
	}

	poll(ctx, state, client, baseURL)
	render()

	uiEvents := ui.PollEvents()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return
			case "j", "<Down>":
				list.ScrollDown()
				ui.Render(list)
			case "k", "<Up>":
				list.ScrollUp()
				ui.Render(list)
			case "r":
				poll(ctx, state, client, baseURL)
				render()
			}
		case <-ticker.C:
			poll(ctx, state, client, baseURL)
			render()
		}
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
