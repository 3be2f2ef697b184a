package ussd

import (
	"strings"

	"github.com/yofarm-hub/ussd/types"
)

// Action is the side effect a decision asks the caller to perform.
type Action int

const (
	ActionNone Action = iota
	ActionInitiatePayment
	ActionRetryPayment
	ActionConfirmPayment
	ActionRestart
)

func (a Action) String() string {
	switch a {
	case ActionInitiatePayment:
		return "initiate_payment"
	case ActionRetryPayment:
		return "retry_payment"
	case ActionConfirmPayment:
		return "confirm_payment"
	case ActionRestart:
		return "restart"
	default:
		return "none"
	}
}

// Decision is the outcome of one callback. For payment actions the Response
// is empty; the terminal text comes from performing the action.
type Decision struct {
	Response Response
	Action   Action
	Draft    types.User
}

type step int

const (
	stepWelcome step = iota
	stepName
	stepRole
	stepLocation
	stepTerms
	stepPackage
	stepPayment
)

var roleChoices = map[string]types.Role{
	"1": types.RoleFarmer,
	"2": types.RoleBuyer,
	"3": types.RoleServiceProvider,
}

// Machine decides the next prompt from the stored record and the inputs of
// the current session. It holds no per-session state.
type Machine struct {
	menu     Menu
	packages map[string]string
}

func NewMachine(menu Menu) *Machine {
	return &Machine{
		menu: menu,
		packages: map[string]string{
			"1": menu.PackageName,
		},
	}
}

// Menu returns the texts the machine renders.
func (m *Machine) Menu() Menu {
	return m.menu
}

// Decide dispatches on the lifecycle of user (nil when no record exists).
func (m *Machine) Decide(user *types.User, inputs []string) Decision {
	if user == nil || user.Status == types.StatusNew || user.Status == "" {
		return m.decideRegistration(inputs)
	}

	switch user.Status {
	case types.StatusPending, types.StatusFailed:
		return m.decideIncomplete(*user, inputs)
	case types.StatusRegistered:
		return m.decideReturning(inputs)
	default:
		return terminate(MsgServiceError)
	}
}

// decideRegistration replays the inputs through the registration steps.
// Blank free text keeps the caller on the same step; an unmapped menu
// choice ends the session.
func (m *Machine) decideRegistration(inputs []string) Decision {
	current := stepWelcome
	draft := types.User{Status: types.StatusNew}
	last := len(inputs) - 1

	for i, raw := range inputs {
		token := strings.TrimSpace(raw)

		var done *Decision
		switch current {
		case stepWelcome:
			switch token {
			case "1":
				current = stepName
			case "2":
				done = ptr(terminate(m.menu.Goodbye()))
			default:
				done = ptr(terminate(MsgInvalidChoice))
			}
		case stepName:
			if token == "" {
				continue
			}
			draft.Name = token
			current = stepRole
		case stepRole:
			role, ok := roleChoices[token]
			if !ok {
				done = ptr(terminate(MsgInvalidRole))
				break
			}
			draft.Role = role
			current = stepLocation
		case stepLocation:
			if token == "" {
				continue
			}
			draft.Location = token
			current = stepTerms
		case stepTerms:
			switch token {
			case "1":
				current = stepPackage
			case "2":
				done = ptr(terminate(m.menu.TermsDeclined()))
			default:
				done = ptr(terminate(MsgInvalidInput))
			}
		case stepPackage:
			pkg, ok := m.packages[token]
			if !ok {
				done = ptr(terminate(MsgInvalidPackage))
				break
			}
			draft.Package = pkg
			current = stepPayment
		case stepPayment:
			switch token {
			case "1":
				done = &Decision{Action: ActionInitiatePayment, Draft: draft}
			case "2":
				done = ptr(terminate(MsgCancelled))
			default:
				done = ptr(terminate(MsgInvalidOption))
			}
		}

		if done != nil {
			// The gateway closes the session on a terminal reply, so trailing
			// input can only come from a replayed or forged request.
			if i != last {
				return terminate(MsgInvalidSession)
			}
			return *done
		}
	}

	return Decision{Response: Con(m.prompt(current, draft)), Draft: draft}
}

func (m *Machine) prompt(s step, draft types.User) string {
	switch s {
	case stepName:
		return MsgEnterName
	case stepRole:
		return MsgSelectRole
	case stepLocation:
		return MsgEnterLocation
	case stepTerms:
		return MsgTerms
	case stepPackage:
		return m.menu.Packages()
	case stepPayment:
		return m.menu.ConfirmPayment(draft.Package)
	default:
		return m.menu.Welcome()
	}
}

func (m *Machine) decideIncomplete(user types.User, inputs []string) Decision {
	switch len(inputs) {
	case 0:
		return Decision{Response: Con(m.menu.Incomplete(user))}
	case 1:
	default:
		return terminate(MsgInvalidSession)
	}

	switch strings.TrimSpace(inputs[0]) {
	case "1":
		if user.Status == types.StatusFailed {
			return Decision{Action: ActionRetryPayment, Draft: user}
		}
		return Decision{Action: ActionConfirmPayment, Draft: user}
	case "2":
		return Decision{Response: End(MsgRestarted), Action: ActionRestart, Draft: user}
	default:
		return terminate(MsgInvalidChoice)
	}
}

// decideReturning serves registered members. Buy and sell share one
// acknowledgement until the marketplace menus exist.
func (m *Machine) decideReturning(inputs []string) Decision {
	switch len(inputs) {
	case 0:
		return Decision{Response: Con(m.menu.WelcomeBack())}
	case 1:
	default:
		return terminate(MsgInvalidSession)
	}

	switch strings.TrimSpace(inputs[0]) {
	case "1", "2":
		return terminate(m.menu.Partnering())
	default:
		return terminate(MsgInvalidOption)
	}
}

func terminate(message string) Decision {
	return Decision{Response: End(message)}
}

func ptr(d Decision) *Decision {
	return &d
}
