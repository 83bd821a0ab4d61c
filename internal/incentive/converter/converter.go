package converter

import (
	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/incentive/utils"
	"github.com/go-gota/gota/dataframe"
)

func DfRowToRow(df dataframe.DataFrame, rowIdx int) types.Row {

	return types.Row{
		PayeeID:         utils.GetStr(types.ColPayeeID, rowIdx, &df),
		Position:        utils.GetStr(types.ColPosition, rowIdx, &df),
		Period:          utils.GetStr(types.ColPeriod, rowIdx, &df),
		PipelineRunDate: utils.GetStr(types.ColPipelineRunDate, rowIdx, &df),
		Name:            utils.GetStr(types.ColName, rowIdx, &df),
		Value:           utils.GetFloat(types.ColValue, rowIdx, &df),
		Currency:        utils.GetStr(types.ColCurrency, rowIdx, &df),
	}
}

// DfToRows converts every table row, keeping order. The result is never nil.
func DfToRows(df dataframe.DataFrame) []types.Row {
	rows := make([]types.Row, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		rows = append(rows, DfRowToRow(df, i))
	}
	return rows
}
