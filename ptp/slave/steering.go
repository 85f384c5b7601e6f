/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package slave

import (
	log "github.com/sirupsen/logrus"
)

// flowPatternCascade is tried in order; NICs differ in which patterns their
// classifier can validate, the first one that installs wins.
var flowPatternCascade = []FlowPattern{
	FlowPatternVLANAnyOuter,
	FlowPatternVLANExplicitOuter,
	FlowPatternUntagged,
}

// installSteering walks the pattern cascade for one port. Returns the
// installed handle and true, or false when every pattern was rejected; in
// that case PTP traffic shares the default RX queue and the worker filters
// defensively.
func installSteering(fr FlowRuler, portID, queue int) (RuleHandle, bool) {
	action := FlowAction{Queue: queue}
	for _, pattern := range flowPatternCascade {
		handle, err := fr.CreateRule(portID, pattern, action)
		if err != nil {
			log.Debugf("port %d: flow pattern %s rejected: %v", portID, pattern, err)
			continue
		}
		log.Infof("port %d: steering PTP to queue %d with pattern %s", portID, queue, pattern)
		return handle, true
	}
	log.Warningf("port %d: no flow pattern accepted, PTP shares the default RX queue", portID)
	return 0, false
}
