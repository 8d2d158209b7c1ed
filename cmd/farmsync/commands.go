package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/paulmach/orb/encoding/wkt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/service"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the token in the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		user, err := app.svc.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		name := email
		if user != nil && user.Name != "" {
			name = user.Name
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ logged in as %s\n", name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the token, user and active farm",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.svc.Logout(cmd.Context())
	},
}

var farmsCmd = &cobra.Command{
	Use:   "farms",
	Short: "Show the active farm, or switch with --select",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		selectID, _ := cmd.Flags().GetString("select")

		var (
			farm *model.Farm
			err  error
		)
		if selectID != "" {
			farm, err = app.svc.SelectFarm(ctx, selectID)
		} else {
			farm, err = app.svc.ResolveFarm(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active farm: %s (%s)\n", farm.Name, farm.ID)
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the active farm map and list its features",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			printState(cmd.OutOrStdout(), rec.State())
			printFeatures(cmd.OutOrStdout(), rec.Session().Features())
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <wkt>",
	Short: "Draw a point, line or zone given as WKT",
	Example: `  farmsync add "POINT(-84.433 10.34)"
  farmsync add "POLYGON((-84.434 10.339,-84.432 10.339,-84.432 10.341,-84.434 10.339))"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		geom, err := wkt.Unmarshal(args[0])
		if err != nil {
			return fmt.Errorf("WKTの解析に失敗: %w", err)
		}
		kind, ok := model.KindForGeometryType(geom.GeoJSONType())
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrGeometryMismatch, geom.GeoJSONType())
		}
		return withSession(cmd, func(rec *service.Reconciler) error {
			f, err := rec.Session().CreateFeature(kind, geom)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", f.ID, f.Name, f.Color)
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <id> <field> <value>",
	Short: "Edit name, note, color, zoneType or status of a feature",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			return quiet(rec.Session().UpdateField(args[0], model.Field(args[1]), args[2]))
		})
	},
}

var componentCmd = &cobra.Command{
	Use:   "component",
	Short: "Manage the components of a zone",
}

var componentAddCmd = &cobra.Command{
	Use:   "add <zone-id>",
	Short: "Add an empty component to a zone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			c, err := rec.Session().AddComponent(args[0])
			if err != nil {
				return quiet(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		})
	},
}

var componentSetCmd = &cobra.Command{
	Use:   "set <zone-id> <component-id> <field> <value>",
	Short: "Edit name, note or type of a component",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			return quiet(rec.Session().UpdateComponent(args[0], args[1], model.Field(args[2]), args[3]))
		})
	},
}

var componentDeleteCmd = &cobra.Command{
	Use:   "delete <zone-id> <component-id>",
	Short: "Remove a component from a zone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			return quiet(rec.Session().DeleteComponent(args[0], args[1]))
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			return quiet(rec.Session().DeleteFeature(args[0]))
		})
	},
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show feature counts by kind and zone status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			printCounts(cmd.OutOrStdout(), rec.Session().Counts())
			return nil
		})
	},
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the saved view, or save a new one",
	Long: `Without flags the saved view is printed.
With --lon/--lat/--zoom the view is saved like the "save view" button.
With --here the same values are treated as the device location and
written immediately, even when nothing else changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		lon, _ := flags.GetFloat64("lon")
		lat, _ := flags.GetFloat64("lat")
		zoom, _ := flags.GetFloat64("zoom")
		here, _ := flags.GetBool("here")
		changed := flags.Changed("lon") || flags.Changed("lat") || flags.Changed("zoom")

		return withSession(cmd, func(rec *service.Reconciler) error {
			if changed {
				current := rec.Session().View()
				if !flags.Changed("lon") {
					lon = current.Center[0]
				}
				if !flags.Changed("lat") {
					lat = current.Center[1]
				}
				if !flags.Changed("zoom") {
					zoom = current.Zoom
				}
				if here {
					if err := rec.CenterOn(lon, lat, zoom); err != nil {
						return err
					}
				} else if err := rec.SaveView(model.View{Center: [2]float64{lon, lat}, Zoom: zoom}); err != nil {
					return err
				}
			}
			v := rec.Session().View()
			fmt.Fprintf(cmd.OutOrStdout(), "center: %.6f, %.6f  zoom: %.2f\n", v.Center[0], v.Center[1], v.Zoom)
			return nil
		})
	},
}

var focusCmd = &cobra.Command{
	Use:   "focus <zone-name>",
	Short: "Select a zone by name and print its Web Mercator extent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(rec *service.Reconciler) error {
			id, bound, err := rec.Session().FocusZone(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t[%.1f %.1f] - [%.1f %.1f]\n",
				id, bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y())
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	farmsCmd.Flags().String("select", "", "make the farm with this id active")

	viewCmd.Flags().Float64("lon", 0, "center longitude")
	viewCmd.Flags().Float64("lat", 0, "center latitude")
	viewCmd.Flags().Float64("zoom", 0, "zoom level")
	viewCmd.Flags().Bool("here", false, "treat the coordinates as the device location")

	componentCmd.AddCommand(componentAddCmd, componentSetCmd, componentDeleteCmd)
}

// withSession アクティブファームを読み込み、fn の後に保留中の書き込みを送る
// バックエンドに届かない場合はキャッシュの内容で続行する
func withSession(cmd *cobra.Command, fn func(rec *service.Reconciler) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := app.svc.Open(ctx)
	if rec == nil {
		return err
	}
	defer rec.Close()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠️ backend unreachable, working on the local cache: %v\n", err)
	}

	if err := fn(rec); err != nil {
		return err
	}

	if err := rec.Flush(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠️ changes kept locally, will be sent on the next save: %v\n", err)
		return nil
	}
	if st := rec.State(); !st.Loaded {
		app.logger.Debug("write gate closed, changes kept in cache", zap.String("phase", string(st.Phase)))
	}
	return nil
}

// quiet UIが無視する種類のエラーを握りつぶす
func quiet(err error) error {
	if err != nil && model.IsSilent(err) {
		app.logger.Debug("ignored edit", zap.Error(err))
		return nil
	}
	return err
}

func printState(w io.Writer, st service.SyncState) {
	fmt.Fprintf(w, "phase: %s  dirty: %t  reachable: %t\n", st.Phase, st.Dirty, st.Reachable)
}

func printFeatures(w io.Writer, features []*model.Feature) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tCOLOR\tZONE TYPE\tSTATUS\tCOMPONENTS")
	for _, f := range features {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n", f.ID, f.Kind, f.Name, f.Color, f.ZoneType, f.Status, len(f.Components))
	}
	tw.Flush()
}

func printCounts(w io.Writer, c model.Counts) {
	fmt.Fprintf(w, "points: %d  lines: %d  zones: %d\n", c.Points, c.Lines, c.Zones)
	statuses := make([]string, 0, len(c.Statuses))
	for s := range c.Statuses {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %s: %d\n", s, c.Statuses[s])
	}
}
