package resp

import "math"

var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
	nanVal = math.NaN()
)
