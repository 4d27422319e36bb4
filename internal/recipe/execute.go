package recipe

import (
	"fmt"

	"github.com/specterops/pipemgr/internal/manager"
	"github.com/specterops/pipemgr/internal/proc"
)

// Execute runs every stage of a recipe, in order, through a manager.
// Checkpointed stages record their marker after succeeding, so a rerun
// skips them before even consulting the target.
func Execute(m *manager.Manager, r *Recipe) error {
	for _, st := range r.Stages {
		m.Timestamp("### " + st.Name)

		mode, err := proc.ParseShellMode(st.Shell)
		if err != nil {
			return m.Fail(fmt.Errorf("stage %q: %w", st.Name, err), false)
		}

		spec := manager.RunSpec{
			Commands:  st.CommandList(),
			Target:    st.Target,
			LockName:  st.LockName,
			Shell:     mode,
			NoFail:    st.NoFail,
			Errmsg:    st.Errmsg,
			Clean:     st.Clean,
			Container: st.Container,
		}
		if st.Checkpoint {
			spec.Checkpoint = st.Name
		}

		if _, err := m.Run(spec); err != nil {
			return err
		}

		if st.Checkpoint {
			if _, err := m.Checkpoint(st.Name); err != nil {
				m.Logger().Warning(err.Error())
			}
		}
	}
	return nil
}
