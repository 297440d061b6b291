package reports_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/reports"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(t *testing.T, rec *allure.TestResult)
	}{
		{
			name: "full allure result",
			data: `{
				"uuid": "u1",
				"historyId": "h1",
				"name": "login works",
				"fullName": "auth.LoginTest.loginWorks",
				"status": "passed",
				"start": 1714564800000,
				"stop": 1714564801500,
				"labels": [{"name": "suite", "value": "auth"}],
				"attachments": [{"name": "log", "source": "abc-attachment.txt", "type": "text/plain"}],
				"steps": [{"name": "open page", "status": "passed", "steps": [{"name": "click"}]}]
			}`,
			check: func(t *testing.T, rec *allure.TestResult) {
				assert.Equal(t, "login works", rec.Name)
				assert.Equal(t, allure.StatusPassed, rec.Status)
				require.NotNil(t, rec.Start)
				assert.Equal(t, int64(1714564800000), *rec.Start)
				require.NotNil(t, rec.Stop)
				assert.Equal(t, int64(1714564801500), *rec.Stop)
				assert.Equal(t, []allure.Label{{Name: "suite", Value: "auth"}}, rec.Labels)
				require.Len(t, rec.Attachments, 1)
				assert.Equal(t, "abc-attachment.txt", rec.Attachments[0].Source)
				require.Len(t, rec.Steps, 1)
				require.Len(t, rec.Steps[0].Steps, 1)
				assert.Equal(t, "click", rec.Steps[0].Steps[0].Name)
			},
		},
		{
			name: "missing timestamps stay nil",
			data: `{"name": "t", "status": "broken"}`,
			check: func(t *testing.T, rec *allure.TestResult) {
				assert.Nil(t, rec.Start)
				assert.Nil(t, rec.Stop)
				assert.Equal(t, allure.StatusBroken, rec.Status)
			},
		},
		{
			name: "unknown status kept verbatim",
			data: `{"name": "t", "status": "flaky"}`,
			check: func(t *testing.T, rec *allure.TestResult) {
				assert.Equal(t, allure.Status("flaky"), rec.Status)
				assert.Equal(t, allure.StatusUnknown, rec.Status.Classify())
			},
		},
		{name: "missing status", data: `{"name": "t"}`, wantErr: true},
		{name: "missing name", data: `{"status": "passed"}`, wantErr: true},
		{name: "null status", data: `{"name": "t", "status": null}`, wantErr: true},
		{name: "not json", data: `{"name": `, wantErr: true},
		{name: "json array", data: `[1, 2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := reports.ParseRecord([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			tt.check(t, rec)
		})
	}
}

func TestRecordReader_Read(t *testing.T) {
	store := newMemStore().
		put("reports/run1/a-result.json", result("a", "passed")).
		put("reports/run1/b-result.json", `{"name": `).
		put("reports/run1/c-result.json", `{"uuid": "no-name"}`).
		put("reports/run1/d-result.json", result("d", "failed")).
		put("reports/run1/e-result.json", result("e", "broken")).
		put("reports/run1/f-container.json", `{"name": "container"}`).
		put("reports/run1/f-attachment.png", "png")
	store.failOpen["reports/run1/e-result.json"] = true

	reader := reports.NewRecordReader(quietLogger(), store, "-result.json")

	files, err := reader.Read(context.Background(), "run1")
	require.NoError(t, err)

	assert.Equal(t, 7, files.Objects)
	assert.Equal(t, 5, files.Candidates)
	require.Len(t, files.Records, 2)

	assert.Equal(t, "a", files.Records[0].Name)
	assert.Equal(t, "run1", files.Records[0].RunID)
	assert.Equal(t, "reports/run1/a-result.json", files.Records[0].Key)
	assert.Equal(t, "d", files.Records[1].Name)
}

func TestRecordReader_ListFailure(t *testing.T) {
	store := newMemStore()
	store.failList["run1"] = true

	reader := reports.NewRecordReader(quietLogger(), store, "-result.json")

	_, err := reader.Read(context.Background(), "run1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
