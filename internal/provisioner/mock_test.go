// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provisioner_test

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	toolsaws "github.com/clusterra/cluster-connect/internal/tools/aws"
	"github.com/clusterra/cluster-connect/internal/tools/tofu"
	"github.com/clusterra/cluster-connect/model"
)

// eventRecorder captures the order of mutating calls across mocks so tests
// can assert on sequencing.
type eventRecorder struct {
	events []string
}

func (r *eventRecorder) add(event string) {
	r.events = append(r.events, event)
}

func (r *eventRecorder) indexOf(event string) int {
	for i, e := range r.events {
		if e == event {
			return i
		}
	}
	return -1
}

// statusSequence yields successive statuses, repeating the last one once
// exhausted.
type statusSequence struct {
	statuses []string
	calls    int
}

func (s *statusSequence) next() string {
	i := s.calls
	s.calls++
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	return s.statuses[i]
}

type mockCloud struct {
	recorder *eventRecorder

	accountID     string
	headNodeID    string
	network       *toolsaws.InstanceNetwork
	stackStatuses *statusSequence
	secretExists  bool
	shellErrs     []error
	visible       []bool
	invitations   []*toolsaws.ShareInvitation
	associateErr  error

	ensurePolicyCalls int
	agentWaitCalls    int
	shellCalls        int
	runScriptCalls    int
	runScriptArgs     []string
	packageCalls      int
	packageArgs       []string
	associateCalls    int
	disassociateCalls int
	acceptCalls       int
	registerTokens    int
	visibleCalls      int
	findCalls         int
}

func (m *mockCloud) GetRegion() string {
	return "us-east-1"
}

func (m *mockCloud) GetAccountID(ctx context.Context) (string, error) {
	return m.accountID, nil
}

func (m *mockCloud) GetStackStatus(ctx context.Context, stackName string) (string, error) {
	if m.stackStatuses == nil {
		return model.ClusterStatusNotFound, nil
	}
	return m.stackStatuses.next(), nil
}

func (m *mockCloud) GetHeadNodeInstanceID(ctx context.Context, stackName string) (string, error) {
	return m.headNodeID, nil
}

func (m *mockCloud) GetInstanceNetwork(ctx context.Context, instanceID string) (*toolsaws.InstanceNetwork, error) {
	if m.network == nil {
		return nil, errors.Errorf("no such instance %s", instanceID)
	}
	return m.network, nil
}

func (m *mockCloud) EnsureInstanceAgentPolicy(ctx context.Context, instanceID string) error {
	m.ensurePolicyCalls++
	return nil
}

func (m *mockCloud) WaitForAgentOnline(ctx context.Context, instanceID string, timeout time.Duration) error {
	m.agentWaitCalls++
	return nil
}

func (m *mockCloud) RunShellCommands(ctx context.Context, instanceID string, commands []string) (string, error) {
	i := m.shellCalls
	m.shellCalls++
	if i < len(m.shellErrs) && m.shellErrs[i] != nil {
		return "", m.shellErrs[i]
	}
	return "", nil
}

func (m *mockCloud) RunScript(ctx context.Context, instanceID, scriptPath string, args []string) (string, error) {
	m.runScriptCalls++
	m.runScriptArgs = args
	m.recorder.add("run-script " + scriptPath)
	return "ok", nil
}

func (m *mockCloud) RunScriptPackage(ctx context.Context, instanceID, dir, mainScript string, args []string) (string, error) {
	m.packageCalls++
	m.packageArgs = args
	m.recorder.add("run-package " + mainScript)
	return "ok", nil
}

func (m *mockCloud) SecretExists(ctx context.Context, secretARN string) (bool, error) {
	return m.secretExists, nil
}

func (m *mockCloud) FindServiceNetworkInvitation(ctx context.Context, nameSubstring, senderAccount string) (*toolsaws.ShareInvitation, error) {
	i := m.findCalls
	m.findCalls++
	if i >= len(m.invitations) {
		return nil, nil
	}
	return m.invitations[i], nil
}

func (m *mockCloud) AcceptShareInvitation(ctx context.Context, invitationARN string) error {
	m.acceptCalls++
	m.recorder.add("accept-invitation")
	return nil
}

func (m *mockCloud) IsServiceNetworkVisible(ctx context.Context, serviceNetworkID string) (bool, error) {
	i := m.visibleCalls
	m.visibleCalls++
	if len(m.visible) == 0 {
		return true, nil
	}
	if i >= len(m.visible) {
		i = len(m.visible) - 1
	}
	return m.visible[i], nil
}

func (m *mockCloud) AssociateServiceWithNetwork(ctx context.Context, serviceARN, serviceNetworkID string) error {
	m.associateCalls++
	m.recorder.add("associate")
	return m.associateErr
}

func (m *mockCloud) DisassociateServiceFromNetwork(ctx context.Context, serviceARN, serviceNetworkID string) error {
	m.disassociateCalls++
	m.recorder.add("disassociate")
	return nil
}

func (m *mockCloud) GenerateIdentityToken(ctx context.Context) (string, error) {
	m.registerTokens++
	return "token123", nil
}

type mockInfra struct {
	recorder *eventRecorder

	// configFile is written when the cluster configuration target applies,
	// standing in for the file the real tool renders.
	configFile string
	outputs    map[string]string
	onboarding *tofu.OnboardingOutputs
	applyErrs  map[string]error

	initCalls      int
	applies        []string
	destroyCalls   int
	destroyTargets []string
}

func (m *mockInfra) Init() error {
	m.initCalls++
	return nil
}

func (m *mockInfra) ApplyTarget(target string) error {
	m.applies = append(m.applies, target)
	m.recorder.add("apply " + target)
	if err := m.applyErrs[target]; err != nil {
		return err
	}
	if target == "module.parallelcluster" && m.configFile != "" {
		return os.WriteFile(m.configFile, []byte("Region: us-east-1\n"), 0o644)
	}
	return nil
}

func (m *mockInfra) Destroy() error {
	m.destroyCalls++
	m.recorder.add("destroy")
	return nil
}

func (m *mockInfra) DestroyTarget(target string) error {
	m.destroyTargets = append(m.destroyTargets, target)
	m.recorder.add("destroy " + target)
	return nil
}

func (m *mockInfra) Output(name string) (string, bool, error) {
	value, ok := m.outputs[name]
	return value, ok, nil
}

func (m *mockInfra) Onboarding() (*tofu.OnboardingOutputs, error) {
	if m.onboarding == nil {
		return nil, errors.New("onboarding output not found")
	}
	return m.onboarding, nil
}

type mockClusterCLI struct {
	statuses    *statusSequence
	describeErr error

	createCalls int
	deleteCalls int
}

func (m *mockClusterCLI) CreateCluster(name, configPath string) error {
	m.createCalls++
	return nil
}

func (m *mockClusterCLI) DeleteCluster(name string) error {
	m.deleteCalls++
	return nil
}

func (m *mockClusterCLI) DescribeClusterStatus(name string) (string, error) {
	if m.describeErr != nil {
		return "", m.describeErr
	}
	return m.statuses.next(), nil
}

type mockRegistry struct {
	response *model.RegisterClusterResponse
	err      error

	calls   int
	tenant  string
	request *model.RegisterClusterRequest
	token   string
}

func (m *mockRegistry) RegisterCluster(ctx context.Context, tenantID string, request *model.RegisterClusterRequest, identityToken string) (*model.RegisterClusterResponse, error) {
	m.calls++
	m.tenant = tenantID
	m.request = request
	m.token = identityToken
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}
