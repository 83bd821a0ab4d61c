package utils

import (
	"math"

	"github.com/go-gota/gota/dataframe"
)

func containsString(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

func GetStr(col string, rowIdx int, df *dataframe.DataFrame) string {

	if df == nil {
		return ""
	}

	if containsString(df.Names(), col) {
		elem := df.Col(col).Elem(rowIdx)
		if elem.IsNA() {
			return ""
		}
		return elem.String()
	}
	return ""
}

// GetFloat returns nil when the column is absent or the cell is NaN.
func GetFloat(col string, rowIdx int, df *dataframe.DataFrame) *float64 {
	if df == nil {
		return nil
	}
	if !containsString(df.Names(), col) {
		return nil
	}

	elem := df.Col(col).Elem(rowIdx)
	if elem.IsNA() {
		return nil
	}
	val := elem.Float()
	if math.IsNaN(val) {
		return nil
	}
	return &val
}
