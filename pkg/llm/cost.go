// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import "math"

// DefaultCostPerToken is a blended rough estimate, not a price list.
const DefaultCostPerToken = 0.000015

// EstimateCost returns tokens*rate rounded to six decimal places.
func EstimateCost(tokens int, rate float64) float64 {
	return math.Round(float64(tokens)*rate*1e6) / 1e6
}
