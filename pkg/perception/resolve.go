package perception

import "strings"

//ROIFromID returns the first ROI in given array whose ID equals id
func ROIFromID(id int, rois ROIArray) (ROI, bool) {
	for _, roi := range rois.ROIs {
		if roi.ID == id {
			return roi, true
		}
	}

	return ROI{}, false
}

//ClassificationResultFromID finds the signal with given id and summarizes it: Label joins every element's label
//with commas, in the elements order, and Prob is the confidence of the most confident element (first one wins on ties).
func ClassificationResultFromID(id int, signals SignalArray) (ClassificationResult, bool) {
	for _, signal := range signals.Signals {
		if signal.ID != id {
			continue
		}

		return summarize(signal), true
	}

	return ClassificationResult{}, false
}

func summarize(signal Signal) ClassificationResult {
	if len(signal.Elements) == 0 {
		return ClassificationResult{}
	}

	labels := make([]string, 0, len(signal.Elements))
	best := 0
	for i, element := range signal.Elements {
		labels = append(labels, Label(element.State))
		if element.Confidence > signal.Elements[best].Confidence {
			best = i
		}
	}

	return ClassificationResult{
		Prob:  signal.Elements[best].Confidence,
		Label: strings.Join(labels, ","),
	}
}
