package optimize

import (
	"fmt"
	"sort"
	"time"
)

// TrainTestResult pairs every train-period trial with its out-of-sample
// rerun. The All* fields keep the full ranking for walk-forward analysis;
// the display fields are cut to the requested top N.
type TrainTestResult struct {
	TrainTestMode bool   `json:"train_test_mode"`
	TrainPeriod   Period `json:"train_period"`
	TestPeriod    Period `json:"test_period"`

	TrainResults []TrialResult `json:"train_results"`
	TestResults  []TrialResult `json:"test_results"`
	Scores       []float64     `json:"scores"`

	AllTrainResults []TrialResult `json:"all_train_results"`
	AllTestResults  []TrialResult `json:"all_test_results"`
	AllScores       []float64     `json:"all_scores"`

	TotalTests     int `json:"total_tests"`
	CompletedTests int `json:"completed_tests"`
}

// trainTestWindow derives the two periods from a start date and month
// counts. Each period runs to the day before the next one starts.
func trainTestWindow(trainStart time.Time, trainMonths, testMonths int) (trainEnd, testStart, testEnd time.Time) {
	trainEnd = trainStart.AddDate(0, trainMonths, 0).AddDate(0, 0, -1)
	testStart = trainEnd.AddDate(0, 0, 1)
	testEnd = testStart.AddDate(0, testMonths, 0).AddDate(0, 0, -1)
	return trainEnd, testStart, testEnd
}

// RunTrainTest grid-searches the training period, reruns every result over
// the held-out test period, and ranks combinations by the combined
// in-sample and out-of-sample score.
func (o *Optimizer) RunTrainTest(req Request) (*TrainTestResult, error) {
	if req.TrainMonths <= 0 || req.TestMonths <= 0 {
		return nil, fmt.Errorf("train/test split requires train_months and test_months")
	}
	trainStart, err := parseDate(req.TrainStartDate, "train_start_date")
	if err != nil {
		return nil, err
	}
	trainEnd, testStart, testEnd := trainTestWindow(trainStart, req.TrainMonths, req.TestMonths)

	trainReq := req
	trainReq.StartDate = trainStart.Format("2006-01-02")
	trainReq.EndDate = trainEnd.Format("2006-01-02")
	trainReq.EnableTrainTest = false

	trainGrid, err := o.RunGrid(trainReq)
	if err != nil {
		return nil, err
	}

	scoring := req.scoring()

	type scored struct {
		train TrialResult
		test  TrialResult
		score float64
	}

	var combined []scored
	for _, trainTrial := range trainGrid.Results {
		testTrial, err := o.runTrial(comboFromTrial(trainTrial), testStart, testEnd, req.MarginEnabled, trialInitialCapital, scoring)
		if err != nil {
			o.logger.WithError(err).WithFields(map[string]interface{}{
				"broker":   trainTrial.Broker,
				"strategy": trainTrial.Strategy,
			}).Warn("Test-period rerun failed")
			continue
		}

		combined = append(combined, scored{
			train: trainTrial,
			test:  *testTrial,
			score: trainTestScore(trainTrial.CAGR, trainTrial.MaxDrawdown, testTrial.CAGR, testTrial.MaxDrawdown, scoring),
		})
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].score > combined[j].score
	})

	result := &TrainTestResult{
		TrainTestMode:  true,
		TrainPeriod:    Period{Start: trainReq.StartDate, End: trainReq.EndDate},
		TestPeriod:     Period{Start: testStart.Format("2006-01-02"), End: testEnd.Format("2006-01-02")},
		TotalTests:     trainGrid.TotalTests,
		CompletedTests: trainGrid.CompletedTests,
	}
	for _, s := range combined {
		result.AllTrainResults = append(result.AllTrainResults, s.train)
		result.AllTestResults = append(result.AllTestResults, s.test)
		result.AllScores = append(result.AllScores, s.score)
	}

	topN := req.topN()
	if topN > len(combined) {
		topN = len(combined)
	}
	result.TrainResults = result.AllTrainResults[:topN]
	result.TestResults = result.AllTestResults[:topN]
	result.Scores = result.AllScores[:topN]

	return result, nil
}
