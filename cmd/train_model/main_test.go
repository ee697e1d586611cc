package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckdrisk/form"
	"ckdrisk/ml"
)

// writeDataset writes a top10-shaped CKD sample where low hemoglobin and high
// creatinine mark the disease class.
func writeDataset(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("id,hemo,pcv,sg,rc,al,bgr,bu,sod,su,sc,classification\n")
	for i := 0; i < 40; i++ {
		step := float64(i%10) / 10
		pcv := fmt.Sprint(28 + i%5)
		if i%7 == 0 {
			pcv = "?"
		}
		fmt.Fprintf(&b, "%d,%.1f,%s,1.010,3.9,%d,%d,%.0f,132,%d,%.1f,ckd\n",
			2*i, 8+step*2, pcv, 2+i%3, 140+i, 60+step*40, i%3, 3+step*2)
		fmt.Fprintf(&b, "%d,%.1f,%d,1.020,5.1,0,%d,%.0f,140,0,%.1f,notckd\n",
			2*i+1, 14+step*2, 44+i%5, 95+i, 30+step*10, 0.7+step/2)
	}
	b.WriteString("80,12.0,40,1.015,4.5,0,100,40,135,0,1.2,\n")

	path := filepath.Join(t.TempDir(), "kidney_disease.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestTrainEvaluateInspect(t *testing.T) {
	csvPath := writeDataset(t)
	out := filepath.Join(t.TempDir(), "model", "random_forest10.json")

	rf, metrics, err := train(context.Background(), trainOptions{
		CSV:       csvPath,
		Variant:   form.VariantTop10,
		Trees:     15,
		MaxDepth:  6,
		Seed:      42,
		TestRatio: 0.25,
		Out:       out,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, metrics.Samples)
	assert.Equal(t, 0, metrics.Positive)
	assert.GreaterOrEqual(t, metrics.Accuracy, 0.9)

	info := rf.Info()
	assert.Equal(t, 10, info.NFeatures)
	assert.Equal(t, []int{0, 1}, info.Classes)
	assert.Equal(t, "hemo", info.FeatureNames[0])

	loaded, err := ml.LoadModel(out)
	require.NoError(t, err)
	require.NotNil(t, loaded.Info().Metrics)
	assert.Equal(t, metrics.Accuracy, loaded.Info().Metrics.Accuracy)

	evaluated, err := evaluate(csvPath, form.VariantTop10, out)
	require.NoError(t, err)
	assert.Equal(t, 80, evaluated.Samples, "unlabelled row skipped")
	assert.GreaterOrEqual(t, evaluated.Accuracy, 0.9)

	_, err = evaluate(csvPath, form.VariantFull, out)
	assert.Error(t, err, "full variant needs columns the sample lacks")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"inspect", "--model", out, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	var printed ml.ModelInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &printed))
	assert.Equal(t, ml.TypeRandomForest, printed.Type)
	assert.Equal(t, 15, printed.Trees)
}

func TestTrainRejectsUnknownVariant(t *testing.T) {
	_, _, err := train(context.Background(), trainOptions{CSV: writeDataset(t), Variant: "mini"})
	assert.ErrorContains(t, err, "unknown variant")
}

func TestDefaultOut(t *testing.T) {
	assert.Equal(t, "model/random_forest.json", defaultOut(form.VariantFull))
	assert.Equal(t, "model/random_forest10.json", defaultOut(form.VariantTop10))
}
