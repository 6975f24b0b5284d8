// Package report renders OPD maps for review: a PNG heat map drawn with
// gonum/plot and an interactive HTML page built with go-echarts.
package report
