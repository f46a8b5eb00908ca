package optimize

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	jsonMarker       = "# JSON DATA (for re-loading results)"
	reportMaxResults = 300
)

// SaveReport writes a timestamped report file into dir and returns the
// file name and full path.
func SaveReport(dir string, params Request, result interface{}) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create results dir: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405.000")
	timestamp = strings.ReplaceAll(timestamp, ".", "_")

	name := fmt.Sprintf("optimization_results_%s.txt", timestamp)
	if wf, ok := result.(*WalkForwardResult); ok {
		trainYears := float64(wf.TrainPeriodMonths) / 12
		name = fmt.Sprintf("optimization_results_%.0fy_%s.txt", trainYears, timestamp)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := WriteReport(f, params, result); err != nil {
		return "", "", err
	}
	return name, path, nil
}

// WriteReport renders a human-readable report followed by a JSON footer
// that ParseReport can recover.
func WriteReport(w io.Writer, params Request, result interface{}) error {
	fmt.Fprintf(w, "Optimization Results - %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	switch r := result.(type) {
	case *WalkForwardResult:
		writeWalkForwardReport(w, r)
	case *TrainTestResult:
		writeParams(w, params)
		writeResultsTable(w, r.TrainResults)
	case *GridResult:
		writeParams(w, params)
		writeResultsTable(w, r.Results)
	default:
		return fmt.Errorf("unsupported result type %T", result)
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report JSON: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, jsonMarker)
	fmt.Fprintln(w, strings.Repeat("=", 80))
	w.Write(payload)
	fmt.Fprintln(w)
	return nil
}

func writeParams(w io.Writer, params Request) {
	fmt.Fprintln(w, "Parameters:")
	fmt.Fprintln(w, strings.Repeat("-", 20))
	fmt.Fprintf(w, "Start Date: %s\n", params.StartDate)
	fmt.Fprintf(w, "End Date: %s\n", params.EndDate)
	fmt.Fprintf(w, "Tickers: %s\n", strings.Join(params.Tickers, ", "))
	fmt.Fprintf(w, "Brokers: %s\n", strings.Join(params.Brokers, ", "))
	fmt.Fprintf(w, "Strategies: %s\n", strings.Join(params.Strategies, ", "))
	fmt.Fprintf(w, "Sizing Methods: %s\n", strings.Join(params.SizingMethods, ", "))
	fmt.Fprintf(w, "Margin Enabled: %v\n", params.MarginEnabled)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ranges:")
	fmt.Fprintf(w, "N Tickers: %v\n", params.NTickersRange)
	fmt.Fprintf(w, "Rebalance Period: %v\n", params.RebalancePeriodRange)
	fmt.Fprintf(w, "Momentum Lookback: %v\n", params.MomentumLookbackRange)
	if params.StopLossRange != nil {
		fmt.Fprintf(w, "Stop Loss: %v\n", *params.StopLossRange)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)
}

func writeResultsTable(w io.Writer, results []TrialResult) {
	fmt.Fprintf(w, "Top %d Results:\n", reportMaxResults)
	fmt.Fprintln(w, strings.Repeat("-", 20))

	headers := []string{"#", "Broker", "N Tickers", "Rebalance", "Lookback", "Filter Neg Mom", "Stop Loss", "Strategy", "Sizing", "CAGR", "Max DD", "Final Value"}
	headerLine := strings.Join(headers, " | ")
	fmt.Fprintln(w, headerLine)
	fmt.Fprintln(w, strings.Repeat("-", len(headerLine)))

	for i, res := range results {
		if i >= reportMaxResults {
			break
		}

		lookback := "-"
		filter := "-"
		if res.Strategy == "momentum" {
			lookback = fmt.Sprintf("%d", res.MomentumLookbackDays)
			filter = "No"
			if res.FilterNegativeMomentum {
				filter = "Yes"
			}
		}
		stopLoss := "-"
		if res.StopLossPct != nil {
			stopLoss = fmt.Sprintf("%v%%", *res.StopLossPct)
		}

		row := []string{
			fmt.Sprintf("%d", res.TestNumber),
			res.Broker,
			fmt.Sprintf("%d", res.NTickers),
			fmt.Sprintf("%d", res.RebalancePeriod),
			lookback,
			filter,
			stopLoss,
			res.Strategy,
			res.SizingMethod,
			fmt.Sprintf("%.2f%%", res.CAGR*100),
			fmt.Sprintf("%.2f%%", res.MaxDrawdown*100),
			fmt.Sprintf("$%.2f", res.FinalValue),
		}
		fmt.Fprintln(w, strings.Join(row, " | "))
	}
}

func writeWalkForwardReport(w io.Writer, r *WalkForwardResult) {
	fmt.Fprintln(w, "MODE: Walk-Forward Optimization")
	fmt.Fprintf(w, "Total Windows: %d\n", r.TotalWindows)
	fmt.Fprintf(w, "Train Period: %.1f years (%d months)\n", float64(r.TrainPeriodMonths)/12, r.TrainPeriodMonths)
	fmt.Fprintf(w, "Test Period: %d months\n", r.TestPeriodMonths)
	fmt.Fprintf(w, "Step: %d months\n", r.StepMonths)
	fmt.Fprintln(w)

	writeAggregatedPerformance(w, r.Windows)

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w, "INDIVIDUAL WINDOWS (Top Results)")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	for _, window := range r.Windows {
		fmt.Fprintf(w, "\nWindow %d: %s -> %s\n", window.WindowNumber, window.Window.TrainStart, window.Window.TestEnd)
		fmt.Fprintf(w, "Train: %s to %s\n", window.Window.TrainStart, window.Window.TrainEnd)
		fmt.Fprintf(w, "Test: %s to %s\n", window.Window.TestStart, window.Window.TestEnd)
		fmt.Fprintln(w, strings.Repeat("-", 50))

		for i := range window.TrainResults {
			if i >= len(window.TestResults) || i >= len(window.Scores) {
				break
			}
			train := window.TrainResults[i]
			test := window.TestResults[i]

			lookback := "-"
			if train.Strategy == "momentum" {
				lookback = fmt.Sprintf("%d", train.MomentumLookbackDays)
			}
			fmt.Fprintf(w, "%d. %s | N:%d | Rebal:%d | Look:%s | ", i+1, train.Broker, train.NTickers, train.RebalancePeriod, lookback)
			fmt.Fprintf(w, "Train CAGR:%.2f%% DD:%.2f%% | ", train.CAGR*100, train.MaxDrawdown*100)
			fmt.Fprintf(w, "Test CAGR:%.2f%% DD:%.2f%% | ", test.CAGR*100, test.MaxDrawdown*100)
			fmt.Fprintf(w, "Score:%.1f\n", window.Scores[i])
		}
		fmt.Fprintln(w)
	}
}

// writeAggregatedPerformance reports the geometric-mean test CAGR and
// average test drawdown of each window's top result.
func writeAggregatedPerformance(w io.Writer, windows []WindowResult) {
	var cagrs, dds []float64
	for _, window := range windows {
		if len(window.TestResults) > 0 {
			cagrs = append(cagrs, window.TestResults[0].CAGR)
			dds = append(dds, window.TestResults[0].MaxDrawdown)
		}
	}
	if len(cagrs) == 0 {
		return
	}

	product := 1.0
	for _, cagr := range cagrs {
		product *= 1 + cagr
	}
	aggregated := math.Pow(product, 1/float64(len(cagrs))) - 1

	sum := 0.0
	for _, dd := range dds {
		sum += dd
	}
	avgDD := sum / float64(len(dds))

	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w, "AGGREGATED PERFORMANCE (Top Result from Each Window)")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Aggregated Test CAGR: %.2f%%\n", aggregated*100)
	fmt.Fprintf(w, "  (Geometric mean of %d windows)\n\n", len(cagrs))
	fmt.Fprintf(w, "Average Test Max Drawdown: %.2f%%\n", avgDD*100)
	fmt.Fprintf(w, "  (Arithmetic mean of %d windows)\n", len(dds))
}

// ParseReport recovers the JSON payload from a saved report file.
func ParseReport(content string) (json.RawMessage, error) {
	markerIdx := strings.Index(content, jsonMarker)
	if markerIdx == -1 {
		return nil, fmt.Errorf("report has no JSON data footer")
	}

	jsonStart := strings.Index(content[markerIdx:], "{")
	if jsonStart == -1 {
		return nil, fmt.Errorf("report JSON footer is malformed")
	}

	payload := strings.TrimSpace(content[markerIdx+jsonStart:])
	var check interface{}
	if err := json.Unmarshal([]byte(payload), &check); err != nil {
		return nil, fmt.Errorf("report JSON footer is invalid: %w", err)
	}
	return json.RawMessage(payload), nil
}
