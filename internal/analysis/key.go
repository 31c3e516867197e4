package analysis

// Key estimation by pitch-class profile correlation. A 12-element weight
// vector is correlated against the Krumhansl-Kessler major and minor
// profiles rotated to every tonic, then the winner is validated against the
// observed chord histogram.

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Krumhansl-Kessler key profiles.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// chordHistogramAgreement is the minimum weighted fraction of observed
// chords that must fit the profile-selected key before it is accepted.
const chordHistogramAgreement = 0.6

// DefaultKey is returned when no diatonic set explains any observed chord.
const DefaultKey = "C major"

// KeyName formats a (tonic, mode) pair, e.g. "G minor".
func KeyName(tonic int, minor bool) string {
	mode := "major"
	if minor {
		mode = "minor"
	}
	return pitchNames[tonic%12] + " " + mode
}

// correlate computes the dot product of the weight vector against a profile
// rotated to the given tonic.
func correlate(weights [12]float64, profile [12]float64, tonic int) float64 {
	var sum float64
	for pc := 0; pc < 12; pc++ {
		sum += weights[pc] * profile[(pc-tonic+12)%12]
	}
	return sum
}

// bestProfileKey returns the (tonic, mode) maximizing correlation. Ties are
// broken by lower tonic index first, then major over minor.
func bestProfileKey(weights [12]float64) (tonic int, minor bool) {
	best := correlate(weights, majorProfile, 0)
	for t := 0; t < 12; t++ {
		for _, m := range []bool{false, true} {
			profile := majorProfile
			if m {
				profile = minorProfile
			}
			score := correlate(weights, profile, t)
			if score > best {
				best = score
				tonic = t
				minor = m
			}
		}
	}
	return tonic, minor
}

// diatonicChords returns the triads diatonic to a key, named the way the
// chord segmenter emits them ("C", "Dm", "Bdim").
func diatonicChords(tonic int, minor bool) []string {
	type degree struct {
		interval int
		quality  string // "", "m", "dim"
	}

	var degrees []degree
	if minor {
		// Natural minor: i, ii dim, III, iv, v, VI, VII.
		degrees = []degree{
			{0, "m"}, {2, "dim"}, {3, ""}, {5, "m"}, {7, "m"}, {8, ""}, {10, ""},
		}
	} else {
		// Major: I, ii, iii, IV, V, vi, vii dim.
		degrees = []degree{
			{0, ""}, {2, "m"}, {4, "m"}, {5, ""}, {7, ""}, {9, "m"}, {11, "dim"},
		}
	}

	chords := make([]string, 0, len(degrees))
	for _, d := range degrees {
		chords = append(chords, pitchNames[(tonic+d.interval)%12]+d.quality)
	}
	return chords
}

// explainedWeight sums histogram weight for chords inside a key's diatonic set.
func explainedWeight(histogram map[string]float64, tonic int, minor bool) float64 {
	inKey := make(map[string]struct{})
	for _, chord := range diatonicChords(tonic, minor) {
		inKey[chord] = struct{}{}
	}

	var sum float64
	for chord, weight := range histogram {
		if _, ok := inKey[chord]; ok {
			sum += weight
		}
	}
	return sum
}

// EstimateKey selects the musical key for a 12-element pitch-class weight
// vector and validates it against a weighted chord histogram. If the
// profile-selected key explains less than 60% of the observed chord weight,
// the key whose diatonic set explains the largest share wins instead; if no
// key explains any chord, DefaultKey is returned.
func EstimateKey(weights [12]float64, chordHistogram map[string]float64) string {
	tonic, minor := bestProfileKey(weights)

	var total float64
	for _, weight := range chordHistogram {
		total += weight
	}
	if total <= 0 {
		// Nothing to validate against.
		return KeyName(tonic, minor)
	}

	if explainedWeight(chordHistogram, tonic, minor)/total >= chordHistogramAgreement {
		return KeyName(tonic, minor)
	}

	bestTonic, bestMinor := 0, false
	var bestExplained float64
	for t := 0; t < 12; t++ {
		for _, m := range []bool{false, true} {
			explained := explainedWeight(chordHistogram, t, m)
			if explained > bestExplained {
				bestExplained = explained
				bestTonic = t
				bestMinor = m
			}
		}
	}

	if bestExplained <= 0 {
		return DefaultKey
	}
	return KeyName(bestTonic, bestMinor)
}
