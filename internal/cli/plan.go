package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourusername/uav-mission-core/internal/scenario"
	"github.com/yourusername/uav-mission-core/pkg/models"
)

// dronePlan 单机规划输出
type dronePlan struct {
	DroneID   string      `json:"drone_id"`
	Tasks     []string    `json:"tasks"`
	LengthM   float64     `json:"length_m"`
	EnergyWh  float64     `json:"mission_energy_wh"`
	Waypoints models.Plan `json:"waypoints"`
}

// planOutput plan 命令输出
type planOutput struct {
	Scenario  string      `json:"scenario"`
	Rounds    int         `json:"rounds"`
	PoolSizes []int       `json:"pool_sizes"`
	Unclaimed []string    `json:"unclaimed"`
	Drones    []dronePlan `json:"drones"`
}

func newPlanCommand(g *globalFlags) *cobra.Command {
	var scenarioPath, format string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Allocate tasks and print coverage routes without flying",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			sc, err := scenario.Load(scenarioPath)
			if err != nil {
				return err
			}
			applyScenario(cfg, sc)
			c := newComponents(cfg, logger)

			drones := sc.DroneStates()
			res := c.allocator.Allocate(sc.Tasks, drones)
			plans := c.planner.Plan(res.Assignment, drones, c.planner.CellSize(), c.planner.Axis())

			out := planOutput{
				Scenario:  sc.Name,
				Rounds:    res.Rounds,
				PoolSizes: res.PoolSizes,
				Unclaimed: taskIDs(res.Unclaimed),
			}
			for _, d := range drones {
				plan := plans[d.DroneID]
				length := plan.Length(d.Position)
				out.Drones = append(out.Drones, dronePlan{
					DroneID:   d.DroneID,
					Tasks:     taskIDs(res.Assignment[d.DroneID]),
					LengthM:   length,
					EnergyWh:  c.energy.MissionEnergy(length),
					Waypoints: plan,
				})
			}

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			case "text":
				return writePlanTable(cmd.OutOrStdout(), out)
			default:
				return fmt.Errorf("unknown output format %q", format)
			}
		},
	}

	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file (yaml)")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format (text|json)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func writePlanTable(w io.Writer, out planOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "DRONE\tTASKS\tWAYPOINTS\tLENGTH(m)\tENERGY(Wh)\n")
	for _, d := range out.Drones {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.2f\n", d.DroneID, len(d.Tasks), len(d.Waypoints), d.LengthM, d.EnergyWh)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "rounds: %d, unclaimed: %v\n", out.Rounds, out.Unclaimed)
	return nil
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
