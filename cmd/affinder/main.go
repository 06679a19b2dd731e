// Command affinder estimates the transform that registers a moving image onto
// a reference image from matched landmark points, and optionally writes the
// resampled moving image and an overlay.
package main

import (
	"flag"
	"fmt"
	goimage "image"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"affinder/internal/alignment"
	"affinder/internal/app"
	"affinder/internal/image"
	"affinder/internal/matrixio"
	"affinder/internal/prefs"
	"affinder/internal/version"
	"affinder/pkg/geometry"
)

func main() {
	appPrefs := prefs.Load()

	refImage := flag.String("ref", "", "Path to reference image")
	movImage := flag.String("moving", "", "Path to moving image")
	refPoints := flag.String("ref-points", "", "CSV of reference points (one row, column pair per line)")
	movPoints := flag.String("moving-points", "", "CSV of moving points, same order as -ref-points")
	model := flag.String("model", appPrefs.StringWithFallback(prefs.KeyModel, "affine"), "Transform model: affine, similarity or euclidean")
	output := flag.String("output", "", "Write the estimated matrix to this CSV file")
	warped := flag.String("warped", "", "Write the moving image resampled into the reference frame (PNG)")
	overlay := flag.String("overlay", "", "Write the reference image with the warped image blended on top (PNG)")
	blend := flag.String("blend", appPrefs.StringWithFallback(prefs.KeyBlend, "normal"), "Overlay blend mode")
	opacity := flag.Float64("opacity", appPrefs.FloatWithFallback(prefs.KeyOpacity, 0.5), "Overlay opacity (0-1)")
	backend := flag.String("backend", appPrefs.StringWithFallback(prefs.KeyBackend, "go"), "Resampling backend: go or opencv")
	ransac := flag.Float64("ransac", 0, "Reject outliers with RANSAC using this inlier distance in pixels (0 disables)")
	tol := flag.Float64("tol", appPrefs.FloatWithFallback(prefs.KeyTolerance, alignment.DefaultTolerance), "Rank tolerance below which point configurations are rejected")
	projectPath := flag.String("project", "", "Load points and images from this project, or save them to it when points are given")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	family, err := alignment.ParseFamily(*model)
	if err != nil {
		fatal(err)
	}
	mode, err := image.ParseBlendMode(*blend)
	if err != nil {
		fatal(err)
	}
	if *backend != "go" && *backend != "opencv" {
		fatal(fmt.Errorf("unknown backend %q", *backend))
	}

	havePoints := *refPoints != "" || *movPoints != ""
	if !havePoints && *projectPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: affinder -ref-points <csv> -moving-points <csv> [-model affine] [-output matrix.csv]")
		fmt.Fprintln(os.Stderr, "       affinder -project <file.affproj>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := checkImagePaths(*refImage, *movImage); err != nil {
		fatal(err)
	}

	state := app.NewState()
	state.Family = family
	state.Options.Tolerance = *tol
	state.OutputPath = *output

	state.On(app.EventActiveLayerChanged, func(data interface{}) {
		log.Printf("Active layer: %s", data)
	})
	state.On(app.EventTransformSaved, func(data interface{}) {
		log.Printf("Matrix saved to %s", data)
	})

	var res *alignment.Result
	var ref, mov geometry.PointSet
	if havePoints {
		ref, mov, err = loadPoints(*refPoints, *movPoints)
		if err != nil {
			fatal(err)
		}
		if *refImage != "" {
			if err := state.LoadReferenceImage(*refImage); err != nil {
				fatal(err)
			}
		}
		if *movImage != "" {
			if err := state.LoadMovingImage(*movImage); err != nil {
				fatal(err)
			}
		}
		res, err = estimate(state, ref, mov, *ransac)
		if err != nil {
			fatal(err)
		}
		if *projectPath != "" {
			name := strings.TrimSuffix(filepath.Base(*projectPath), filepath.Ext(*projectPath))
			p := state.ToProject(name, *projectPath)
			p.SetPoints(ref, mov)
			if err := p.Save(*projectPath); err != nil {
				fatal(err)
			}
			log.Printf("Project saved to %s", *projectPath)
		}
	} else {
		if err := state.LoadProject(*projectPath); err != nil {
			fatal(err)
		}
		ref, mov = state.Points()
		res = state.Last
		if res == nil {
			fatal(fmt.Errorf("project %s has no estimable transform", *projectPath))
		}
	}
	state.Finish()

	printResult(res, ref, mov)

	if *warped != "" || *overlay != "" {
		if err := writeImages(state, *warped, *overlay, *backend, mode, *opacity); err != nil {
			fatal(err)
		}
	}

	appPrefs.SetString(prefs.KeyModel, res.Family.String())
	appPrefs.SetFloat(prefs.KeyTolerance, *tol)
	if err := appPrefs.Save(); err != nil {
		log.Printf("Failed to save preferences: %v", err)
	}
}

// checkImagePaths rejects using one file as both reference and moving image.
func checkImagePaths(ref, moving string) error {
	if ref == "" || moving == "" {
		return nil
	}
	a, err := filepath.Abs(ref)
	if err != nil {
		return err
	}
	b, err := filepath.Abs(moving)
	if err != nil {
		return err
	}
	if a == b {
		return fmt.Errorf("reference and moving images must differ (both are %s)", ref)
	}
	return nil
}

func loadPoints(refPath, movPath string) (geometry.PointSet, geometry.PointSet, error) {
	if refPath == "" || movPath == "" {
		return nil, nil, fmt.Errorf("both -ref-points and -moving-points are required")
	}
	ref, err := matrixio.LoadPoints(refPath)
	if err != nil {
		return nil, nil, err
	}
	mov, err := matrixio.LoadPoints(movPath)
	if err != nil {
		return nil, nil, err
	}
	return ref, mov, nil
}

// estimate runs the points through the session, or fits all pairs at once
// with outlier rejection when threshold is positive.
func estimate(state *app.State, ref, mov geometry.PointSet, threshold float64) (*alignment.Result, error) {
	if err := state.Start(ref.Dim()); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		res, err := state.Replay(ref, mov)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("need at least %d point pairs", alignment.MinPoints(ref.Dim()))
		}
		return res, nil
	}

	opts := alignment.DefaultRANSACOptions()
	opts.Options = state.Options
	opts.Threshold = threshold
	res, err := alignment.EstimateRANSAC(ref, mov, state.Family, opts)
	if err != nil {
		return nil, err
	}
	log.Printf("RANSAC kept %d of %d pairs", len(res.Inliers), len(ref))
	if err := state.ApplyResult(res); err != nil {
		return nil, err
	}
	return res, nil
}

func printResult(res *alignment.Result, ref, mov geometry.PointSet) {
	fmt.Printf("\n=== %s transform ===\n", res.Family)
	fmt.Println(res.Matrix)
	if res.IllConditioned {
		fmt.Printf("Warning: ill-conditioned (condition %.3g)\n", res.Condition)
	}

	if res.Matrix.Dim() == 2 {
		t, err := res.Matrix.XY()
		if err == nil {
			angle := math.Atan2(t.C, t.A) * 180 / math.Pi
			scale := math.Sqrt(t.A*t.A + t.C*t.C)
			fmt.Printf("Rotation: %.4f°\n", angle)
			fmt.Printf("Scale: %.6f\n", scale)
			fmt.Printf("Translation (row, col): (%.2f, %.2f)\n", t.TY, t.TX)
		}
	}

	fmt.Printf("RMS error: %.3f px\n", res.RMS)
	fmt.Printf("Max error: %.3f px\n", alignment.MaxError(ref, mov, res.Matrix))

	fmt.Printf("\nPer-point residuals:\n")
	for i, r := range alignment.Residuals(ref, mov, res.Matrix) {
		fmt.Printf("  %3d  ref=%v  err=%.2f px\n", i, []float64(ref[i]), r)
	}
}

func writeImages(state *app.State, warpedPath, overlayPath, backend string, mode image.BlendMode, opacity float64) error {
	if state.Reference == nil || state.Moving == nil {
		return fmt.Errorf("-warped and -overlay need both -ref and -moving images")
	}
	if state.Last != nil && state.Last.Matrix.Dim() != 2 {
		return fmt.Errorf("-warped and -overlay need 2D points, got %dD", state.Last.Matrix.Dim())
	}
	refInv, err := state.Reference.Transform.Inverse()
	if err != nil {
		return err
	}
	m := refInv.Compose(state.Moving.Transform)
	w, h := state.Reference.Width(), state.Reference.Height()

	var warped, out goimage.Image
	if backend == "opencv" {
		warped, err = image.WarpOpenCV(state.Moving.Image, m, w, h)
	} else {
		warped, err = image.Warp(state.Moving.Image, m, w, h)
	}
	if err != nil {
		return fmt.Errorf("warp: %w", err)
	}
	if warpedPath != "" {
		if err := image.SavePNG(warpedPath, warped); err != nil {
			return err
		}
		log.Printf("Warped image saved to %s", warpedPath)
	}

	if overlayPath == "" {
		return nil
	}
	if backend == "opencv" && mode == image.BlendNormal {
		out, err = image.OverlayOpenCV(state.Reference.Image, warped, opacity)
		if err != nil {
			return fmt.Errorf("overlay: %w", err)
		}
	} else {
		out = image.Overlay(state.Reference.Image, warped, opacity, mode)
	}
	if err := image.SavePNG(overlayPath, out); err != nil {
		return err
	}
	log.Printf("Overlay saved to %s", overlayPath)
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "affinder: %v\n", err)
	os.Exit(1)
}
